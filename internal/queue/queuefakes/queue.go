// Package queuefakes holds a hand-written fake of the queue collaborator
// for use by internal/dispatch tests.
package queuefakes

import (
	"context"

	"videobrief/internal/queue"
)

// Queue is a call-logging fake satisfying dispatch.Enqueuer.
type Queue struct {
	EnqueueFunc func(ctx context.Context, job *queue.Job) error
	Enqueued    []*queue.Job
}

func (f *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	f.Enqueued = append(f.Enqueued, job)
	if f.EnqueueFunc != nil {
		return f.EnqueueFunc(ctx, job)
	}
	return nil
}
