package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"rulehub/internal/rules"
)

// memoryRepository backs unit tests.
type memoryRepository struct {
	mu    sync.RWMutex
	rules map[string]*rules.Rule
}

func NewMemoryRepository() Repository {
	return &memoryRepository{rules: make(map[string]*rules.Rule)}
}

func (r *memoryRepository) BeginTx(context.Context) (*sql.Tx, error) {
	return nil, nil
}

func (r *memoryRepository) Create(_ context.Context, _ *sql.Tx, rule *rules.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; ok {
		return fmt.Errorf("rule already exists")
	}
	r.rules[rule.ID] = rule.Clone()
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*rules.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	return rule.Clone(), nil
}

func (r *memoryRepository) List(_ context.Context, state rules.State) ([]*rules.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*rules.Rule
	for _, rule := range r.rules {
		if state == "" || rule.State == state {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) Update(_ context.Context, _ *sql.Tx, rule *rules.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; !ok {
		return fmt.Errorf("rule not found")
	}
	rule.UpdatedAt = time.Now()
	r.rules[rule.ID] = rule.Clone()
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, _ *sql.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return fmt.Errorf("rule not found")
	}
	delete(r.rules, id)
	return nil
}
