package tactile

import (
	"sync"
	"time"

	"gridrun/internal/logging"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent represents an execution event.
type AuditEvent struct {
	Type      AuditEventType   `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Command   Command          `json:"command"`
	Result    *ExecutionResult `json:"result,omitempty"`
}

// AuditTrail keeps the most recent execution events in memory and mirrors
// them into the exec log category.
type AuditTrail struct {
	mu     sync.Mutex
	events []AuditEvent
	limit  int
}

// NewAuditTrail creates a trail that retains at most limit events.
func NewAuditTrail(limit int) *AuditTrail {
	if limit <= 0 {
		limit = 1000
	}
	return &AuditTrail{limit: limit}
}

// Record is an audit callback suitable for SetAuditCallback.
func (a *AuditTrail) Record(event AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, event)
	if len(a.events) > a.limit {
		a.events = a.events[len(a.events)-a.limit:]
	}
	a.mu.Unlock()

	log := logging.Get(logging.CategoryExec).With("event", string(event.Type))
	if tag, ok := event.Command.Tags["batch"]; ok {
		log = log.With("batch", tag)
	}
	switch event.Type {
	case AuditEventStart:
		log.Debug("start: %s", event.Command.CommandString())
	case AuditEventComplete:
		log.Debug("complete: %s exit=%d in %s", event.Command.CommandString(), event.Result.ExitCode, event.Result.Duration)
	case AuditEventKilled:
		log.Warn("killed: %s (%s)", event.Command.CommandString(), event.Result.KillReason)
	case AuditEventError:
		log.Error("error: %s (%s)", event.Command.CommandString(), event.Result.Error)
	}
}

// Events returns a copy of the retained events.
func (a *AuditTrail) Events() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}

// Summary counts retained events per type.
func (a *AuditTrail) Summary() map[AuditEventType]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[AuditEventType]int)
	for _, ev := range a.events {
		counts[ev.Type]++
	}
	return counts
}
