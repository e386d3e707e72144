package conflict

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rulehub/internal/logger"
	"rulehub/internal/rules"
	"rulehub/pkg/metrics"
)

// RuleSource yields the rule set to scan. The registry implements it.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*rules.Rule, error)
}

// ReportStore caches the latest scan report. The redis-backed
// implementation lives in cache.go; a nil store keeps reports in memory.
type ReportStore interface {
	StoreReport(ctx context.Context, report *Report) error
	LoadReport(ctx context.Context) (*Report, error)
}

// Scanner runs the full O(n²) pairwise analysis off the request path.
// Every registry mutation bumps the generation counter; a scan that
// finishes against a stale generation discards its result, so the cached
// report never regresses behind a newer rule set.
type Scanner struct {
	detector *Detector
	source   RuleSource
	store    ReportStore
	log      logger.Logger

	generation atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	latest *Report
}

func NewScanner(detector *Detector, source RuleSource, store ReportStore, log logger.Logger) *Scanner {
	return &Scanner{
		detector: detector,
		source:   source,
		store:    store,
		log:      log,
	}
}

// Invalidate marks the current report stale. Called on every rule mutation.
func (s *Scanner) Invalidate() {
	s.generation.Add(1)
}

// Trigger starts a scan of the current generation, cancelling any scan
// still in flight. It returns immediately.
func (s *Scanner) Trigger(ctx context.Context) {
	gen := s.generation.Load()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		if err := s.scan(scanCtx, gen); err != nil {
			s.log.WarnwCtx(scanCtx, "conflict scan aborted", "generation", gen, "error", err)
		}
	}()
}

func (s *Scanner) scan(ctx context.Context, gen int64) error {
	started := time.Now()

	all, err := s.source.ListRules(ctx)
	if err != nil {
		return err
	}

	active := make([]*rules.Rule, 0, len(all))
	for _, r := range all {
		if r.Active() {
			active = append(active, r)
		}
	}

	passes := []func(a, b *rules.Rule) *Conflict{
		s.detector.overlappingConditions,
		s.detector.contradictoryActions,
		s.detector.duplicateLogic,
		s.detector.scheduleOverlap,
	}

	results := make([][]Conflict, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	for i, pass := range passes {
		i, pass := i, pass
		g.Go(func() error {
			for x := 0; x < len(active); x++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for y := x + 1; y < len(active); y++ {
					if c := pass(active[x], active[y]); c != nil {
						results[i] = append(results[i], *c)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// a mutation landed while we were scanning: this result describes a
	// rule set that no longer exists
	if s.generation.Load() != gen {
		s.log.InfowCtx(ctx, "discarding stale conflict scan", "generation", gen, "current", s.generation.Load())
		return nil
	}

	report := &Report{
		Generation: gen,
		ScannedAt:  time.Now(),
		RuleCount:  len(active),
	}
	for _, rs := range results {
		report.Conflicts = append(report.Conflicts, rs...)
	}

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	counts := make(map[Type]int)
	for _, c := range report.Conflicts {
		counts[c.Type]++
	}
	for _, t := range []Type{OverlappingConditions, ContradictoryActions, DuplicateLogic, ScheduleOverlap} {
		metrics.SetConflictsDetected(string(t), counts[t])
	}

	if s.store != nil {
		if err := s.store.StoreReport(ctx, report); err != nil {
			s.log.WarnwCtx(ctx, "failed to cache conflict report", "error", err)
		}
	}

	s.log.InfowCtx(ctx, "conflict scan completed",
		"generation", gen,
		"rules", len(active),
		"conflicts", len(report.Conflicts),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Latest returns the newest available report: the cache if one is stored,
// otherwise the last in-memory result. Nil means no scan has completed yet.
func (s *Scanner) Latest(ctx context.Context) (*Report, error) {
	if s.store != nil {
		report, err := s.store.LoadReport(ctx)
		if err != nil {
			s.log.WarnwCtx(ctx, "failed to load cached conflict report", "error", err)
		} else if report != nil {
			return report, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

// Stop cancels any in-flight scan.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
