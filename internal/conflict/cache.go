package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	reportKey = "rulehub:conflicts:latest"
	reportTTL = 24 * time.Hour
)

// redisReportStore keeps the latest scan report in redis so every service
// instance serves the same report without rescanning.
type redisReportStore struct {
	client *redis.Client
}

func NewRedisReportStore(client *redis.Client) ReportStore {
	return &redisReportStore{client: client}
}

func (s *redisReportStore) StoreReport(ctx context.Context, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict report: %w", err)
	}
	if err := s.client.Set(ctx, reportKey, data, reportTTL).Err(); err != nil {
		return fmt.Errorf("failed to store conflict report: %w", err)
	}
	return nil
}

func (s *redisReportStore) LoadReport(ctx context.Context) (*Report, error) {
	data, err := s.client.Get(ctx, reportKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict report: %w", err)
	}
	return &report, nil
}
