package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"rulehub/internal/config"
	"rulehub/internal/logger"
	"rulehub/pkg/circuitbreaker"
	"rulehub/pkg/metrics"
	"rulehub/pkg/retry"
	"rulehub/pkg/tracing"
)

// KafkaNotifier writes events to a single topic. Publishes run behind a
// circuit breaker with a short retry so a flapping broker degrades to
// dropped notifications instead of blocked request handlers.
type KafkaNotifier struct {
	writer  *kafkago.Writer
	topic   string
	breaker *circuitbreaker.Wrapper
	policy  retry.Policy
	log     logger.Logger
}

func NewKafkaNotifier(cfg config.NotifierConfig, breakerCfg config.CircuitBreakerConfig, log logger.Logger) *KafkaNotifier {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	}

	return &KafkaNotifier{
		writer:  writer,
		topic:   cfg.Topic,
		breaker: circuitbreaker.NewWrapper(breakerSettings(breakerCfg)),
		policy: retry.Policy{
			MaxAttempts:     2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
		},
		log: log,
	}
}

func breakerSettings(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	out := circuitbreaker.DefaultConfig("notifier")
	if !cfg.Enabled {
		return out
	}
	if cfg.MaxRequests > 0 {
		out.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		out.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		out.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		ratio, min := cfg.FailureRatio, cfg.MinRequests
		out.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= min && failureRatio >= ratio
		}
	}
	return out
}

func (n *KafkaNotifier) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = n.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		err := retry.Retry(ctx, n.policy, func() error {
			return n.writer.WriteMessages(ctx, kafkago.Message{
				Topic:   n.topic,
				Key:     []byte(event.RuleID),
				Value:   body,
				Time:    event.Timestamp,
				Headers: tracing.InjectTraceContext(ctx, nil),
			})
		})
		return nil, err
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(event.Type), "failed").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(event.Type), "published").Inc()
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
