package registry

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rulehub/internal/history"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
)

// csvHeader defines the export column order. Structured fields (tags,
// schedule, rule payload) travel as JSON inside their cells.
var csvHeader = []string{
	"id", "name", "description", "version", "author", "state",
	"priority", "kind", "tags", "schedule", "payload",
}

type ImportResult struct {
	Imported int      `json:"imported"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Warnings []string `json:"warnings,omitempty"`
}

// ExportCSV streams the whole registry as CSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	all, err := s.ListRules(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	for _, rule := range all {
		record, err := toCSVRecord(rule)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
		if err := writer.Write(record); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

// ImportJSON reads a JSON array of rules and imports the whole batch, or
// nothing at all.
func (s *Service) ImportJSON(ctx context.Context, r io.Reader, actor string) (*ImportResult, error) {
	var batch []rules.Rule
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid JSON: %v", err))
	}

	incoming := make([]*rules.Rule, len(batch))
	for i := range batch {
		incoming[i] = &batch[i]
	}
	return s.importBatch(ctx, incoming, actor)
}

// ImportCSV reads the CSV layout produced by ExportCSV.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, actor string) (*ImportResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid CSV: %v", err))
	}
	if len(records) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "CSV has no header row")
	}
	if err := checkCSVHeader(records[0]); err != nil {
		return nil, err
	}

	var incoming []*rules.Rule
	for i, record := range records[1:] {
		rule, err := fromCSVRecord(record)
		if err != nil {
			return nil, pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("row %d: %v", i+2, err))
		}
		incoming = append(incoming, rule)
	}
	return s.importBatch(ctx, incoming, actor)
}

// importBatch validates every incoming rule before touching storage; one
// bad rule rejects the whole import. Valid batches persist in a single
// transaction.
func (s *Service) importBatch(ctx context.Context, incoming []*rules.Rule, actor string) (*ImportResult, error) {
	if len(incoming) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "import batch is empty")
	}

	existing, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	existingByID := make(map[string]*rules.Rule, len(existing))
	for _, rule := range existing {
		existingByID[rule.ID] = rule
	}

	result := &ImportResult{}
	now := time.Now()
	seen := make(map[string]bool, len(incoming))

	for i, rule := range incoming {
		label := rule.ID
		if label == "" {
			label = fmt.Sprintf("entry %d", i+1)
		}

		if rule.ID == "" {
			rule.ID = uuid.New().String()
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: missing id, generated %s", label, rule.ID))
		}
		if seen[rule.ID] {
			return nil, pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("duplicate rule id %s in import batch", rule.ID))
		}
		seen[rule.ID] = true

		if rule.Version == "" {
			rule.Version = DefaultVersion
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: missing version, defaulted to %s", label, DefaultVersion))
		}
		if rule.State == "" {
			rule.State = rules.StateDraft
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: missing state, defaulted to draft", label))
		}

		if _, err := s.validator.Validate(rule); err != nil {
			return nil, pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("%s: %v", label, err))
		}

		if prev, ok := existingByID[rule.ID]; ok {
			rule.CreatedAt = prev.CreatedAt
		} else {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
	}

	// Gate the batch against the registry as it will look after import.
	merged := make([]*rules.Rule, 0, len(existing)+len(incoming))
	for _, rule := range existing {
		if !seen[rule.ID] {
			merged = append(merged, rule)
		}
	}
	merged = append(merged, incoming...)
	for _, rule := range incoming {
		if ok, conflicts := s.detector.CanSave(rule, merged); !ok {
			return nil, conflictError(fmt.Sprintf("rule %s cannot be imported", rule.ID), conflicts)
		}
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range incoming {
			_, exists := existingByID[rule.ID]
			if exists {
				if err := s.repo.Update(ctx, tx, rule); err != nil {
					return err
				}
				result.Updated++
			} else {
				if err := s.repo.Create(ctx, tx, rule); err != nil {
					return err
				}
				result.Created++
			}

			changeType := history.ChangeCreated
			if exists {
				changeType = history.ChangeUpdated
			}
			if err := s.appendHistory(ctx, tx, rule, changeType, actor, "imported"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	result.Imported = result.Created + result.Updated
	s.mutated(ctx)
	s.logger.InfowCtx(ctx, "rules imported",
		"created", result.Created, "updated", result.Updated, "actor", actor)
	return result, nil
}

func toCSVRecord(rule *rules.Rule) ([]string, error) {
	tags, err := json.Marshal(rule.Tags)
	if err != nil {
		return nil, err
	}

	schedule := ""
	if rule.Schedule != nil {
		raw, err := json.Marshal(rule.Schedule)
		if err != nil {
			return nil, err
		}
		schedule = string(raw)
	}

	var payload interface{}
	switch rule.Kind {
	case rules.KindDecisionTree:
		payload = rule.Tree
	case rules.KindDecisionTable:
		payload = rule.Table
	case rules.KindScript:
		payload = rule.Script
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return []string{
		rule.ID, rule.Name, rule.Description, rule.Version, rule.Author,
		string(rule.State), strconv.Itoa(rule.Priority), string(rule.Kind),
		string(tags), schedule, string(rawPayload),
	}, nil
}

func checkCSVHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("expected %d columns, got %d", len(csvHeader), len(header)))
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("column %d must be %q, got %q", i+1, name, header[i]))
		}
	}
	return nil
}

func fromCSVRecord(record []string) (*rules.Rule, error) {
	if len(record) != len(csvHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(record))
	}

	priority, err := strconv.Atoi(record[6])
	if err != nil {
		return nil, fmt.Errorf("invalid priority %q", record[6])
	}

	rule := &rules.Rule{
		ID:          record[0],
		Name:        record[1],
		Description: record[2],
		Version:     record[3],
		Author:      record[4],
		State:       rules.State(record[5]),
		Priority:    priority,
		Kind:        rules.Kind(record[7]),
	}

	if record[8] != "" {
		if err := json.Unmarshal([]byte(record[8]), &rule.Tags); err != nil {
			return nil, fmt.Errorf("invalid tags JSON: %w", err)
		}
	}
	if record[9] != "" {
		rule.Schedule = &rules.Schedule{}
		if err := json.Unmarshal([]byte(record[9]), rule.Schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule JSON: %w", err)
		}
	}

	payload := []byte(record[10])
	switch rule.Kind {
	case rules.KindDecisionTree:
		rule.Tree = &rules.TreeSpec{}
		err = json.Unmarshal(payload, rule.Tree)
	case rules.KindDecisionTable:
		rule.Table = &rules.TableSpec{}
		err = json.Unmarshal(payload, rule.Table)
	case rules.KindScript:
		rule.Script = &rules.ScriptSpec{}
		err = json.Unmarshal(payload, rule.Script)
	default:
		return nil, fmt.Errorf("unknown rule kind %q", record[7])
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload JSON: %w", rule.Kind, err)
	}
	return rule, nil
}
