package async

import (
	"context"
	"errors"
	"time"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// SiteJob asks for one validation run. Empty Codes lets the processor resolve them.
type SiteJob struct {
	Site        string
	Codes       []string
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job SiteJob) error
	Shutdown(ctx context.Context)
}
