package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/queue"
	"videobrief/internal/queue/queuefakes"
)

func TestEnqueueHandsJobToQueue(t *testing.T) {
	q := &queuefakes.Queue{}
	d := New(q, "videobrief")

	err := d.Enqueue(context.Background(), "owner-1", "vid-1")
	require.NoError(t, err)

	require.Len(t, q.Enqueued, 1)
	assert.Equal(t, "owner-1", q.Enqueued[0].OwnerID)
	assert.Equal(t, "vid-1", q.Enqueued[0].VideoID)
}

func TestEnqueuePropagatesQueueError(t *testing.T) {
	q := &queuefakes.Queue{EnqueueFunc: func(ctx context.Context, job *queue.Job) error {
		return assert.AnError
	}}
	d := New(q, "videobrief")

	err := d.Enqueue(context.Background(), "owner-1", "vid-1")
	assert.Error(t, err)
}

func TestEnqueueFallsBackToLocalRunnerWhenNoQueueConfigured(t *testing.T) {
	done := make(chan string, 1)
	d := NewLocal(func(ctx context.Context, videoID string) error {
		done <- videoID
		return nil
	})

	err := d.Enqueue(context.Background(), "owner-1", "vid-1")
	require.NoError(t, err)

	select {
	case videoID := <-done:
		assert.Equal(t, "vid-1", videoID)
	case <-time.After(time.Second):
		t.Fatal("fallback runner was never invoked")
	}
}

func TestEnqueueWithNoQueueAndNoRunnerErrors(t *testing.T) {
	d := &Dispatcher{}
	err := d.Enqueue(context.Background(), "owner-1", "vid-1")
	assert.Error(t, err)
}
