package testbench

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu    sync.RWMutex
	cases map[string]*TestCase
}

func NewMemoryRepository() Repository {
	return &memoryRepository{cases: make(map[string]*TestCase)}
}

func (r *memoryRepository) Create(_ context.Context, tc *TestCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	if _, ok := r.cases[tc.ID]; ok {
		return fmt.Errorf("test case already exists")
	}
	now := time.Now()
	tc.CreatedAt = now
	tc.UpdatedAt = now

	clone := *tc
	r.cases[tc.ID] = &clone
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*TestCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tc, ok := r.cases[id]
	if !ok {
		return nil, nil
	}
	clone := *tc
	return &clone, nil
}

func (r *memoryRepository) ListByRule(_ context.Context, ruleID string) ([]TestCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TestCase
	for _, tc := range r.cases {
		if tc.RuleID == ruleID {
			out = append(out, *tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Update(_ context.Context, tc *TestCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cases[tc.ID]; !ok {
		return fmt.Errorf("test case not found")
	}
	tc.UpdatedAt = time.Now()
	clone := *tc
	r.cases[tc.ID] = &clone
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cases[id]; !ok {
		return fmt.Errorf("test case not found")
	}
	delete(r.cases, id)
	return nil
}

func (r *memoryRepository) DeleteByRule(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, tc := range r.cases {
		if tc.RuleID == ruleID {
			delete(r.cases, id)
		}
	}
	return nil
}
