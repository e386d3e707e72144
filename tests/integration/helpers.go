package integration

import (
	"time"

	"rulehub/internal/logger"
	"rulehub/internal/rules"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createScriptRule(id, name, source string, priority int, state rules.State) *rules.Rule {
	now := time.Now()
	return &rules.Rule{
		ID:       id,
		Name:     name,
		Version:  "1.0.0",
		State:    state,
		Priority: priority,
		Kind:     rules.KindScript,
		Script: &rules.ScriptSpec{
			Language: rules.ScriptLanguage,
			Source:   source,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
