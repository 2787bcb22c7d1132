package notify

import (
	"context"

	"github.com/google/uuid"
)

// Event is one movie lifecycle notification fanned out to interested
// consumers (the web frontend subscribes for live progress).
type Event struct {
	Type     string    `json:"type"`
	JobID    uuid.UUID `json:"job_id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Status   string    `json:"status"`
	Stage    string    `json:"stage,omitempty"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
}

const (
	EventProgress  = "movie.progress"
	EventCompleted = "movie.completed"
	EventFailed    = "movie.failed"
	EventCancelled = "movie.cancelled"
)

type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event. Used in tests and when redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
