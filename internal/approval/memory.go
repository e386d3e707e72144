package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepository backs unit tests.
type memoryRepository struct {
	mu       sync.RWMutex
	requests map[string]Request
	timeline []TimelineEvent
}

func NewMemoryRepository() Repository {
	return &memoryRepository{requests: make(map[string]Request)}
}

func (r *memoryRepository) Create(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	cp := cloneRequest(&req)
	return &cp, nil
}

func (r *memoryRepository) List(_ context.Context, status Status) ([]Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Request
	for _, req := range r.requests {
		if status == "" || req.Status == status {
			out = append(out, cloneRequest(&req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ListByRule(_ context.Context, ruleID string) ([]Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Request
	for _, req := range r.requests {
		if req.RuleID == ruleID {
			out = append(out, cloneRequest(&req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Update(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; !ok {
		return fmt.Errorf("approval request not found")
	}
	req.UpdatedAt = time.Now()
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *memoryRepository) AppendTimeline(_ context.Context, event *TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.timeline = append(r.timeline, *event)
	return nil
}

func (r *memoryRepository) Timeline(_ context.Context, requestID string) ([]TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimelineEvent
	for _, e := range r.timeline {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepository) RuleTimeline(_ context.Context, ruleID string) ([]TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TimelineEvent
	for _, e := range r.timeline {
		if e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func cloneRequest(req *Request) Request {
	cp := *req
	cp.RequiredRoles = append([]string(nil), req.RequiredRoles...)
	cp.Approvals = append([]Approval(nil), req.Approvals...)
	return cp
}
