package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actor is the capability handed to every admin operation. It is built by
// the transport layer from verified credentials.
type Actor struct {
	ID    string
	Email string
	Admin bool
}

// Anonymous is the actor of public requests.
var Anonymous = Actor{}

func requireAdmin(a Actor) error {
	if !a.Admin || strings.TrimSpace(a.ID) == "" {
		return NewUnauthorizedError("admin privileges required")
	}
	return nil
}

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, string, time.Duration) {}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func utcNow() time.Time { return time.Now().UTC() }

// outcomeOf maps an operation error to a metrics outcome label.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if se, ok := AsServiceError(err); ok {
		return string(se.Code)
	}
	return "error"
}
