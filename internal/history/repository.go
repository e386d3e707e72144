package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rulehub/internal/rules"
)

type Repository interface {
	// Append records a new snapshot. The version number is assigned
	// inside the call; passing a tx makes it part of a larger mutation.
	Append(ctx context.Context, tx *sql.Tx, entry *Version) error
	List(ctx context.Context, ruleID string) ([]Version, error)
	Get(ctx context.Context, ruleID string, versionNumber int) (*Version, error)
}

type postgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *postgresRepository) Append(ctx context.Context, tx *sql.Tx, entry *Version) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// number assignment and insert share the statement so concurrent
	// appends for one rule collide on the unique index instead of
	// silently reusing a number
	query := `
		INSERT INTO rule_versions (id, rule_id, version_number, snapshot, change_type, changed_by, change_reason, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version_number), 0) + 1 FROM rule_versions WHERE rule_id = $2), $3, $4, $5, $6, $7)
		RETURNING version_number
	`

	err = ex.QueryRowContext(ctx, query,
		entry.ID, entry.RuleID, snapshot,
		string(entry.ChangeType), entry.ChangedBy, entry.ChangeReason, entry.CreatedAt,
	).Scan(&entry.VersionNumber)
	if err != nil {
		return fmt.Errorf("failed to append rule version: %w", err)
	}

	return nil
}

func (r *postgresRepository) List(ctx context.Context, ruleID string) ([]Version, error) {
	query := `
		SELECT id, rule_id, version_number, snapshot, change_type, changed_by, change_reason, created_at
		FROM rule_versions
		WHERE rule_id = $1
		ORDER BY version_number DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}

	return versions, rows.Err()
}

func (r *postgresRepository) Get(ctx context.Context, ruleID string, versionNumber int) (*Version, error) {
	query := `
		SELECT id, rule_id, version_number, snapshot, change_type, changed_by, change_reason, created_at
		FROM rule_versions
		WHERE rule_id = $1 AND version_number = $2
	`

	row := r.db.QueryRowContext(ctx, query, ruleID, versionNumber)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var snapshot []byte
	var changeType string

	if err := row.Scan(
		&v.ID, &v.RuleID, &v.VersionNumber, &snapshot,
		&changeType, &v.ChangedBy, &v.ChangeReason, &v.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	v.ChangeType = ChangeType(changeType)
	v.Snapshot = &rules.Rule{}
	if err := json.Unmarshal(snapshot, v.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &v, nil
}
