package registry

import (
	"context"
	"database/sql"
	"time"

	"rulehub/internal/history"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
)

// seedRules are the starter rules installed on first boot. Seeding is
// idempotent: a rule is written only when its id is absent or its stored
// version differs from the seed version.
func seedRules() []*rules.Rule {
	return []*rules.Rule{
		{
			ID:          "seed-loyalty-discount",
			Name:        "Loyalty discount",
			Description: "Applies a tiered discount for loyal customers",
			Version:     "1.0.0",
			Author:      "system",
			State:       rules.StateDraft,
			Tags:        []string{"pricing", "seed"},
			Priority:    50,
			Kind:        rules.KindScript,
			Script: &rules.ScriptSpec{
				Language: rules.ScriptLanguage,
				Source:   `input.years_active >= 3 && input.total_orders > 20`,
			},
		},
		{
			ID:          "seed-shipping-tier",
			Name:        "Shipping tier",
			Description: "Maps destination and weight class to a shipping tier",
			Version:     "1.0.0",
			Author:      "system",
			State:       rules.StateDraft,
			Tags:        []string{"logistics", "seed"},
			Priority:    40,
			Kind:        rules.KindDecisionTable,
			Table: &rules.TableSpec{
				Columns:    []string{"destination", "weight_class", "tier"},
				Resolution: rules.FirstMatch,
				Rows: [][]interface{}{
					{"domestic", "light", "standard"},
					{"domestic", "heavy", "freight"},
					{"international", rules.Wildcard, "express"},
					{rules.Wildcard, rules.Wildcard, "standard"},
				},
			},
		},
		{
			ID:          "seed-fraud-escalation",
			Name:        "Fraud escalation",
			Description: "Routes suspicious orders to manual review",
			Version:     "1.0.0",
			Author:      "system",
			State:       rules.StateDraft,
			Tags:        []string{"risk", "seed"},
			Priority:    90,
			Kind:        rules.KindDecisionTree,
			Tree: &rules.TreeSpec{
				InputSchema: "order",
				Nodes: map[string]rules.Node{
					rules.RootNodeID: {
						Condition: `input.risk_score > 0.8`,
						Then:      &rules.Branch{Decision: map[string]interface{}{"action": "manual_review"}},
						Else:      &rules.Branch{Goto: "amount_check"},
					},
					"amount_check": {
						Condition: `input.amount > 1000.0`,
						Then:      &rules.Branch{Decision: map[string]interface{}{"action": "verify_payment"}},
						Else:      &rules.Branch{Decision: map[string]interface{}{"action": "approve"}},
					},
				},
			},
		},
	}
}

// Seed installs the starter rules. Safe to run on every boot.
func (s *Service) Seed(ctx context.Context) error {
	for _, seed := range seedRules() {
		existing, err := s.repo.Get(ctx, seed.ID)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
		if existing != nil && existing.Version == seed.Version {
			continue
		}

		now := time.Now()
		seed.UpdatedAt = now

		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			if existing != nil {
				// archive the outgoing version in history before the
				// replacement lands
				old := existing.Clone()
				old.State = rules.StateArchived
				old.UpdatedAt = now
				if err := s.appendHistory(ctx, tx, old, history.ChangeStateChange, "system", "archived, superseded by seed "+seed.Version); err != nil {
					return err
				}

				seed.CreatedAt = existing.CreatedAt
				if err := s.repo.Update(ctx, tx, seed); err != nil {
					return err
				}
				return s.appendHistory(ctx, tx, seed, history.ChangeUpdated, "system", "seed upgraded")
			}
			seed.CreatedAt = now
			if err := s.repo.Create(ctx, tx, seed); err != nil {
				return err
			}
			return s.appendHistory(ctx, tx, seed, history.ChangeCreated, "system", "seeded")
		}); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}

		s.logger.InfowCtx(ctx, "seed rule installed", "rule_id", seed.ID, "version", seed.Version)
	}
	return nil
}
