package constants

import "time"

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultMongoDBName = "rulehub"
)

const (
	DefaultNotifierTopic = "rule_events"
)

const (
	DefaultSchedulerSpec = "@every 1m"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
