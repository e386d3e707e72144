package conflict

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/logger"
	"rulehub/internal/rules"
)

type stubSource struct {
	mu    sync.Mutex
	rules []*rules.Rule
}

func (s *stubSource) ListRules(context.Context) ([]*rules.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rules.Rule(nil), s.rules...), nil
}

func waitForReport(t *testing.T, s *Scanner) *Report {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		report, err := s.Latest(context.Background())
		require.NoError(t, err)
		if report != nil {
			return report
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scan never produced a report")
	return nil
}

func TestScannerProducesReport(t *testing.T) {
	source := &stubSource{rules: []*rules.Rule{
		scriptRule("r1", "a", `input.amount * 0.1`, rules.StateProd),
		scriptRule("r2", "b", `input.amount * 0.1`, rules.StateProd),
	}}
	s := NewScanner(NewDetector(), source, nil, logger.NopLogger())
	defer s.Stop()

	s.Trigger(context.Background())
	report := waitForReport(t, s)

	assert.Equal(t, 2, report.RuleCount)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, DuplicateLogic, report.Conflicts[0].Type)
}

func TestScannerDiscardsStaleGeneration(t *testing.T) {
	source := &stubSource{rules: []*rules.Rule{
		scriptRule("r1", "a", `input.amount * 0.1`, rules.StateProd),
	}}
	s := NewScanner(NewDetector(), source, nil, logger.NopLogger())
	defer s.Stop()

	gen := s.generation.Load()
	// mutation lands before the scan finishes
	s.Invalidate()
	require.NoError(t, s.scan(context.Background(), gen))

	report, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report, "stale result must be discarded")

	// a scan at the current generation is kept
	require.NoError(t, s.scan(context.Background(), s.generation.Load()))
	report, err = s.Latest(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, report)
}
