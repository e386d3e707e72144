package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepository is the in-process Repository used by unit tests.
type memoryRepository struct {
	mu       sync.RWMutex
	versions map[string][]Version
}

func NewMemoryRepository() Repository {
	return &memoryRepository{versions: make(map[string][]Version)}
}

func (r *memoryRepository) Append(_ context.Context, _ *sql.Tx, entry *Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.VersionNumber = len(r.versions[entry.RuleID]) + 1

	stored := *entry
	stored.Snapshot = entry.Snapshot.Clone()
	r.versions[entry.RuleID] = append(r.versions[entry.RuleID], stored)
	return nil
}

func (r *memoryRepository) List(_ context.Context, ruleID string) ([]Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.versions[ruleID]
	out := make([]Version, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		v := stored[i]
		v.Snapshot = stored[i].Snapshot.Clone()
		out = append(out, v)
	}
	return out, nil
}

func (r *memoryRepository) Get(_ context.Context, ruleID string, versionNumber int) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.versions[ruleID]
	if versionNumber < 1 || versionNumber > len(stored) {
		return nil, nil
	}
	v := stored[versionNumber-1]
	v.Snapshot = stored[versionNumber-1].Snapshot.Clone()
	return &v, nil
}
