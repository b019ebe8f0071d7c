package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and classifies the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RobotsPolicy decides whether userAgent may fetch rawURL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string, userAgent string) bool
}

// DocumentStore writes raw artifacts and returns a URI.
type DocumentStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ProgramSink persists extracted programs.
type ProgramSink interface {
	WriteProgram(ctx context.Context, runID string, program ProgramRecord) error
	Close() error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and blocks for a duration (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecorder persists the lifecycle of a crawl run.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time, catalogURL string) error
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, totals RunTotals, errMsg string) error
}
