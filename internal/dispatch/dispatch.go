// Package dispatch hands processing jobs off to the pipeline: enqueue
// semantics against the Redis queue, with an in-process fallback executor
// for local development when no queue is configured.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"videobrief/internal/queue"
)

// Enqueuer is the subset of *queue.Queue that JobDispatcher depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// Runner executes the pipeline for one video id; it is JobRunner.Run in
// production and only ever called synchronously-in-background by the
// local-dev fallback path.
type Runner func(ctx context.Context, videoID string) error

// Dispatcher hands videos off to the processing pipeline, either via a
// durable queue or, if none is configured, by running the job in a
// detached goroutine of the ingest process.
type Dispatcher struct {
	queue  Enqueuer
	run    Runner
	prefix string
}

// New builds a Dispatcher backed by a durable queue.
func New(q Enqueuer, keyPrefix string) *Dispatcher {
	return &Dispatcher{queue: q, prefix: keyPrefix}
}

// NewLocal builds a Dispatcher with no queue collaborator; Enqueue falls
// back to running the job in a background goroutine immediately, so a
// developer without Redis can still exercise the pipeline end to end.
func NewLocal(run Runner) *Dispatcher {
	return &Dispatcher{run: run}
}

// Enqueue hands the job to the queue collaborator and returns once it is
// durably accepted. If no queue collaborator was configured, it runs the
// job in a background goroutine instead; the caller must not wait on
// completion either way.
func (d *Dispatcher) Enqueue(ctx context.Context, ownerID, videoID string) error {
	if d.queue != nil {
		job := &queue.Job{
			ID:      uuid.New().String(),
			VideoID: videoID,
			OwnerID: ownerID,
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		return nil
	}
	return d.fallbackRun(videoID)
}

// fallbackRun is local-dev only, detached from the ingest request's
// context so the HTTP response never blocks on it.
func (d *Dispatcher) fallbackRun(videoID string) error {
	if d.run == nil {
		return fmt.Errorf("no queue and no local runner configured")
	}
	go func() {
		bg := context.Background()
		if err := d.run(bg, videoID); err != nil {
			slog.Error("fallback job run failed", "video_id", videoID, "error", err)
		}
	}()
	return nil
}
