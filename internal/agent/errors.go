package agent

import (
	"errors"
	"fmt"
)

// Outcome sentinels. Only ConfigurationError leaves Execute; the others
// classify blocked and failed runs in logs and response reasons.
var (
	ErrBudgetExceeded    = errors.New("budget exceeded")
	ErrSafetyBlocked     = errors.New("blocked by safety classifier")
	ErrGovernanceBlocked = errors.New("blocked by governance")
	ErrExecution         = errors.New("execution failed")
	ErrTelemetry         = errors.New("telemetry write failed")
)

// ConfigurationError means the request could never run: the agent type is
// unknown or the request is malformed. It is returned before any external
// call is made and is not retryable.
type ConfigurationError struct {
	AgentType string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.AgentType == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error for agent %s: %v", e.AgentType, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
