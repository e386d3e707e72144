package registry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/conflict"
	"rulehub/internal/engine"
	"rulehub/internal/history"
	"rulehub/internal/logger"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/expr"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAudit) RecordOverride(_ context.Context, ruleID, actor string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, ruleID+":"+actor)
	return nil
}

func newTestService(t *testing.T) (*Service, history.Repository, *recordingAudit) {
	t.Helper()

	eval, err := expr.NewEvaluator()
	require.NoError(t, err)

	historyRepo := history.NewMemoryRepository()
	audit := &recordingAudit{}
	svc := NewService(
		NewMemoryRepository(),
		historyRepo,
		rules.NewValidator(eval),
		engine.New(eval, logger.NopLogger()),
		conflict.NewDetector(),
		logger.NopLogger(),
		WithOverrideAudit(audit),
	)
	return svc, historyRepo, audit
}

func scriptCreate(id, name, source string) rules.CreateRuleRequest {
	return rules.CreateRuleRequest{
		ID:   id,
		Name: name,
		Kind: rules.KindScript,
		Script: &rules.ScriptSpec{
			Language: rules.ScriptLanguage,
			Source:   source,
		},
	}
}

func TestCreateAppliesDefaultsAndRecordsHistory(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, scriptCreate("", "threshold", "input.total > 100.0"))
	require.NoError(t, err)

	rule := result.Rule
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "1.0.0", rule.Version)
	assert.Equal(t, rules.StateDraft, rule.State)

	versions, err := historyRepo.List(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, history.ChangeCreated, versions[0].ChangeType)
	assert.Equal(t, 1, versions[0].VersionNumber)
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), scriptCreate("bad", "bad", "eval('input.x')"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestCreateReportsNonBlockingConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := scriptCreate("dup-1", "first", "input.total > 100.0")
	first.State = rules.StateStaging
	_, err := svc.Create(ctx, first)
	require.NoError(t, err)

	second := scriptCreate("dup-2", "second", "input.total  >  100.0")
	second.State = rules.StateStaging
	result, err := svc.Create(ctx, second)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, conflict.DuplicateLogic, result.Conflicts[0].Type)
}

func TestCreateBlocksOnErrorConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	discount := scriptCreate("c-1", "summer discount", "input.total > 50.0")
	discount.State = rules.StateStaging
	discount.Tags = []string{"promo"}
	_, err := svc.Create(ctx, discount)
	require.NoError(t, err)

	surcharge := scriptCreate("c-2", "summer surcharge", "input.total > 60.0")
	surcharge.State = rules.StateStaging
	surcharge.Tags = []string{"promo"}
	_, err = svc.Create(ctx, surcharge)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	_, err = svc.GetRule(ctx, "c-2")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestUpdateSwitchesKind(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "threshold", "input.total > 100.0"))
	require.NoError(t, err)

	result, err := svc.Update(ctx, "r1", rules.UpdateRuleRequest{
		Table: &rules.TableSpec{
			Columns:    []string{"tier", "limit"},
			Resolution: rules.FirstMatch,
			Rows:       [][]interface{}{{"gold", 500}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, rules.KindDecisionTable, result.Rule.Kind)
	assert.Nil(t, result.Rule.Script)

	versions, err := historyRepo.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, history.ChangeUpdated, versions[0].ChangeType)
}

func TestChangeStateRecordsHistory(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "threshold", "input.total > 100.0"))
	require.NoError(t, err)

	require.NoError(t, svc.ChangeState(ctx, "r1", rules.StateStaging, "alice", "ready for testing"))

	rule, err := svc.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rules.StateStaging, rule.State)

	versions, err := historyRepo.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, history.ChangeStateChange, versions[0].ChangeType)
	assert.Equal(t, "alice", versions[0].ChangedBy)

	// same-state transition is a no-op
	require.NoError(t, svc.ChangeState(ctx, "r1", rules.StateStaging, "alice", "again"))
	versions, err = historyRepo.List(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestChangeStateRejectsUnknownState(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ChangeState(context.Background(), "r1", "published", "alice", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestBulkChangeStateRecordsOverrides(t *testing.T) {
	svc, historyRepo, audit := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "one", "input.a > 1.0"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, scriptCreate("r2", "two", "input.b > 2.0"))
	require.NoError(t, err)

	result, err := svc.BulkChangeState(ctx, rules.BulkStateRequest{
		RuleIDs: []string{"r1", "r2", "ghost"},
		ToState: rules.StateArchived,
		Actor:   "admin",
		Reason:  "cleanup",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, result.Succeeded)
	assert.Equal(t, map[string]string{"ghost": "rule not found"}, result.Failed)

	assert.ElementsMatch(t, []string{"r1:admin", "r2:admin"}, audit.entries)

	versions, err := historyRepo.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, history.ChangeStateChange, versions[0].ChangeType)
}

func TestRollbackRestoresContentAsNewVersion(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "original", "input.total > 100.0"))
	require.NoError(t, err)

	newName := "renamed"
	_, err = svc.Update(ctx, "r1", rules.UpdateRuleRequest{Name: &newName})
	require.NoError(t, err)

	result, err := svc.Rollback(ctx, "r1", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, "original", result.Rule.Name)

	versions, err := historyRepo.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, history.ChangeRollback, versions[0].ChangeType)

	// the rolled-back version is untouched
	v2, err := svc.GetVersion(ctx, "r1", 2)
	require.NoError(t, err)
	assert.Equal(t, "renamed", v2.Snapshot.Name)
}

func TestDiffBetweenVersions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "original", "input.total > 100.0"))
	require.NoError(t, err)

	newName := "renamed"
	priority := 75
	_, err = svc.Update(ctx, "r1", rules.UpdateRuleRequest{Name: &newName, Priority: &priority})
	require.NoError(t, err)

	items, err := svc.Diff(ctx, "r1", 1, 2)
	require.NoError(t, err)

	paths := make(map[string]history.DiffItem)
	for _, item := range items {
		paths[item.Path] = item
	}
	require.Contains(t, paths, "name")
	assert.Equal(t, "original", paths["name"].OldValue)
	assert.Equal(t, "renamed", paths["name"].NewValue)
	require.Contains(t, paths, "priority")
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))
	first, err := svc.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)

	require.NoError(t, svc.Seed(ctx))
	second, err := svc.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 3)

	versions, err := historyRepo.List(ctx, "seed-loyalty-discount")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSeedUpgradeArchivesOldVersion(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))

	stored, err := svc.GetRule(ctx, "seed-loyalty-discount")
	require.NoError(t, err)
	stored.Version = "0.9.0"
	require.NoError(t, svc.repo.Update(ctx, nil, stored))

	require.NoError(t, svc.Seed(ctx))

	current, err := svc.GetRule(ctx, "seed-loyalty-discount")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current.Version)

	versions, err := historyRepo.List(ctx, "seed-loyalty-discount")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, history.ChangeUpdated, versions[0].ChangeType)
	assert.Equal(t, history.ChangeStateChange, versions[1].ChangeType)
	assert.Equal(t, rules.StateArchived, versions[1].Snapshot.State)
	assert.Equal(t, "0.9.0", versions[1].Snapshot.Version)
}

func TestImportJSONAllOrNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payload := `[
		{"id": "ok", "name": "fine", "kind": "script",
		 "script": {"language": "cel", "source": "input.x > 1.0"}},
		{"id": "broken", "name": "bad", "kind": "script",
		 "script": {"language": "cel", "source": "eval('input.x')"}}
	]`
	_, err := svc.ImportJSON(ctx, strings.NewReader(payload), "importer")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = svc.GetRule(ctx, "ok")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestImportJSONDefaultsWithWarnings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payload := `[
		{"id": "r1", "name": "fine", "kind": "script",
		 "script": {"language": "cel", "source": "input.x > 1.0"}}
	]`
	result, err := svc.ImportJSON(ctx, strings.NewReader(payload), "importer")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Len(t, result.Warnings, 2) // version and state defaulted

	rule, err := svc.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rules.StateDraft, rule.State)
	assert.Equal(t, "1.0.0", rule.Version)
}

func TestImportJSONUpdatesExistingRule(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "before", "input.x > 1.0"))
	require.NoError(t, err)

	payload := `[
		{"id": "r1", "name": "after", "version": "1.1.0", "state": "draft",
		 "kind": "script", "script": {"language": "cel", "source": "input.x > 2.0"}}
	]`
	result, err := svc.ImportJSON(ctx, strings.NewReader(payload), "importer")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Created)

	rule, err := svc.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "after", rule.Name)
}

func TestCSVRoundTrip(t *testing.T) {
	source, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, source.Seed(ctx))

	var buf bytes.Buffer
	require.NoError(t, source.ExportCSV(ctx, &buf))

	target, _, _ := newTestService(t)
	result, err := target.ImportCSV(ctx, &buf, "importer")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)

	rule, err := target.GetRule(ctx, "seed-shipping-tier")
	require.NoError(t, err)
	require.NotNil(t, rule.Table)
	assert.Len(t, rule.Table.Rows, 4)
}

func TestImportCSVRejectsBadHeader(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ImportCSV(context.Background(), strings.NewReader("id,name\n1,x\n"), "importer")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestEvaluateThroughService(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scriptCreate("r1", "threshold", "input.total > 100.0"))
	require.NoError(t, err)

	result, err := svc.Evaluate(ctx, "r1", map[string]interface{}{"total": 150.0})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Output)

	_, err = svc.Evaluate(ctx, "missing", nil)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSeedRulesPassValidation(t *testing.T) {
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	validator := rules.NewValidator(eval)

	for _, seed := range seedRules() {
		warnings, err := validator.Validate(seed)
		require.NoError(t, err, "seed %s", seed.ID)
		assert.Empty(t, warnings, "seed %s", seed.ID)
	}
}

func TestSeedFraudTreeRoutesHighRisk(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx))

	result, err := svc.Evaluate(ctx, "seed-fraud-escalation", map[string]interface{}{
		"risk_score": 0.95, "amount": 20.0,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"action": "manual_review"}, result.Output)
}

// waitForConflict polls the scan report until it carries a conflict of the
// wanted type.
func waitForConflict(t *testing.T, svc *Service, typ conflict.Type) conflict.Conflict {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		report, err := svc.LatestConflictReport(context.Background())
		if err == nil {
			for _, c := range report.Conflicts {
				if c.Type == typ {
					return c
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scan never reported a %s conflict", typ)
	return conflict.Conflict{}
}

func TestApplyResolutionRefusedWhileConflictsRemain(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	scanner := conflict.NewScanner(conflict.NewDetector(), svc, nil, logger.NopLogger())
	defer scanner.Stop()
	WithScanner(scanner)(svc)

	// contradictory pair written directly: the save gate would block it
	discount := &rules.Rule{
		ID: "c-1", Name: "summer discount", Version: "1.0.0",
		State: rules.StateStaging, Tags: []string{"promo"}, Priority: 10,
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: rules.ScriptLanguage, Source: "input.total > 50.0"},
	}
	surcharge := &rules.Rule{
		ID: "c-2", Name: "summer surcharge", Version: "1.0.0",
		State: rules.StateStaging, Tags: []string{"promo"}, Priority: 5,
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: rules.ScriptLanguage, Source: "input.total > 60.0"},
	}
	require.NoError(t, svc.repo.Create(ctx, nil, discount))
	require.NoError(t, svc.repo.Create(ctx, nil, surcharge))

	require.NoError(t, svc.TriggerScan(ctx))
	c := waitForConflict(t, svc, conflict.ContradictoryActions)

	// distinct priorities already order the pair, so the strategy changes
	// nothing and the contradiction stays open
	_, err := svc.ApplyResolution(ctx, c.ID, conflict.StrategyChangePriority, "resolver")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	stored, err := svc.GetRule(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Priority)
	versions, err := historyRepo.List(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, versions, "a refused resolution must not write history")
}

func TestApplyResolutionPersistsMerge(t *testing.T) {
	svc, historyRepo, _ := newTestService(t)
	ctx := context.Background()

	scanner := conflict.NewScanner(conflict.NewDetector(), svc, nil, logger.NopLogger())
	defer scanner.Stop()
	WithScanner(scanner)(svc)

	first := scriptCreate("dup-1", "first", "input.total > 100.0")
	first.State = rules.StateStaging
	_, err := svc.Create(ctx, first)
	require.NoError(t, err)

	second := scriptCreate("dup-2", "second", "input.total  >  100.0")
	second.State = rules.StateStaging
	_, err = svc.Create(ctx, second)
	require.NoError(t, err)

	// pin creation order so the merge keeps dup-1
	older, err := svc.GetRule(ctx, "dup-1")
	require.NoError(t, err)
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.repo.Update(ctx, nil, older))
	newer, err := svc.GetRule(ctx, "dup-2")
	require.NoError(t, err)
	newer.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.repo.Update(ctx, nil, newer))

	require.NoError(t, svc.TriggerScan(ctx))
	c := waitForConflict(t, svc, conflict.DuplicateLogic)

	preview, err := svc.ApplyResolution(ctx, c.ID, conflict.StrategyMerge, "resolver")
	require.NoError(t, err)
	assert.True(t, preview.Resolved)
	assert.Equal(t, []string{"dup-2"}, preview.ArchivedRuleIDs)

	archived, err := svc.GetRule(ctx, "dup-2")
	require.NoError(t, err)
	assert.Equal(t, rules.StateArchived, archived.State)

	versions, err := historyRepo.List(ctx, "dup-2")
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, history.ChangeUpdated, versions[0].ChangeType)
}
