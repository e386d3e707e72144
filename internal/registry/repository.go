// Package registry owns rule storage and the service operations over it:
// CRUD, lifecycle transitions, evaluation, history, conflicts, import and
// export, seeding.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rulehub/internal/rules"
)

type Repository interface {
	Create(ctx context.Context, tx *sql.Tx, rule *rules.Rule) error
	Get(ctx context.Context, id string) (*rules.Rule, error)
	List(ctx context.Context, state rules.State) ([]*rules.Rule, error)
	Update(ctx context.Context, tx *sql.Tx, rule *rules.Rule) error
	Delete(ctx context.Context, tx *sql.Tx, id string) error

	// BeginTx opens a transaction for multi-rule mutations (bulk state
	// changes, merge apply, import). Memory repositories return nil.
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

type postgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *postgresRepository) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *postgresRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *postgresRepository) Create(ctx context.Context, tx *sql.Tx, rule *rules.Rule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	query := `
		INSERT INTO rules (id, name, state, kind, priority, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.exec(tx).ExecContext(ctx, query,
		rule.ID, rule.Name, string(rule.State), string(rule.Kind),
		rule.Priority, doc, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, id string) (*rules.Rule, error) {
	query := `SELECT document FROM rules WHERE id = $1`

	var doc []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	rule := &rules.Rule{}
	if err := json.Unmarshal(doc, rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
	}
	return rule, nil
}

func (r *postgresRepository) List(ctx context.Context, state rules.State) ([]*rules.Rule, error) {
	query := `SELECT document FROM rules ORDER BY priority DESC, created_at DESC`
	args := []interface{}{}
	if state != "" {
		query = `SELECT document FROM rules WHERE state = $1 ORDER BY priority DESC, created_at DESC`
		args = append(args, string(state))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule := &rules.Rule{}
		if err := json.Unmarshal(doc, rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Update(ctx context.Context, tx *sql.Tx, rule *rules.Rule) error {
	rule.UpdatedAt = time.Now()

	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	query := `
		UPDATE rules
		SET name = $2, state = $3, kind = $4, priority = $5, document = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := r.exec(tx).ExecContext(ctx, query,
		rule.ID, rule.Name, string(rule.State), string(rule.Kind),
		rule.Priority, doc, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := r.exec(tx).ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}
