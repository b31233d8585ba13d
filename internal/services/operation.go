package services

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders operations in the queue. High drains before medium,
// medium before low; ties break on enqueue order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func (p Priority) valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Operation is a durable, retryable unit of deferred work. The payload is
// opaque to the queue; kind-specific (de)serialization belongs to the
// registering caller.
type Operation struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Priority   Priority        `json:"priority"`
	DependsOn  []string        `json:"depends_on,omitempty"`

	// Seq is assigned from a persisted counter at enqueue time and keeps
	// ordering stable within a priority class.
	Seq uint64 `json:"seq"`
}

func (o *Operation) String() string {
	return fmt.Sprintf("%s/%s[%s]", o.Kind, o.Action, o.ID)
}
