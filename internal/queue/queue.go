// Package queue is the Redis-backed job queue behind JobDispatcher: a
// waiting list, a running set with a per-owner advisory lock, and
// success/failed sets feeding a time-bounded cleanup sweep.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"videobrief/internal/config"
)

var ErrOwnerIDRequired = errors.New("owner ID is required")

const (
	// BlockTimeout is how long BRPOP will wait for a job before returning.
	BlockTimeout = 5 * time.Second
	// JobRetention is how long terminal job bookkeeping is kept before sweep.
	JobRetention = 7 * 24 * time.Hour
)

// Keys holds the Redis key layout, namespaced by prefix.
type Keys struct {
	Prefix          string
	WaitingQueue    string
	RunningUsersKey string
	RunningQueue    string
	SuccessSet      string
	FailedSet       string
	CleanupSet      string
}

func keysFor(prefix string) Keys {
	return Keys{
		Prefix:          prefix,
		WaitingQueue:    prefix + ":waiting",
		RunningUsersKey: prefix + ":running-users",
		RunningQueue:    prefix + ":running",
		SuccessSet:      prefix + ":success",
		FailedSet:       prefix + ":failed",
		CleanupSet:      prefix + ":cleanup",
	}
}

// Job represents one video-processing job: one job per video.
type Job struct {
	ID         string    `json:"id" redis:"id"`
	VideoID    string    `json:"video_id" redis:"video_id"`
	OwnerID    string    `json:"owner_id,omitempty" redis:"owner_id"`
	CreatedAt  time.Time `json:"created_at" redis:"created_at"`
	FailReason string    `json:"fail_reason,omitempty" redis:"fail_reason"`
	Status     string    `json:"status" redis:"status"` // queued, running, completed, failed
}

// Queue manages the Redis job queue.
type Queue struct {
	client *redis.Client
	keys   Keys
}

// Open connects to Redis per the given config.
func Open(ctx context.Context, cfg config.QueueConfig) (*Queue, error) {
	slog.Debug("connecting to redis queue", "addr", cfg.RedisAddr)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("redis queue initialized", "addr", cfg.RedisAddr)
	return &Queue{client: client, keys: keysFor(cfg.KeyPrefix)}, nil
}

// NewWithClient wires an existing *redis.Client, for tests.
func NewWithClient(client *redis.Client, prefix string) *Queue {
	return &Queue{client: client, keys: keysFor(prefix)}
}

func (q *Queue) jobKey(jobID string) string { return fmt.Sprintf("%s:job:%s", q.keys.Prefix, jobID) }

func (q *Queue) ownerWaitingKey(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:waiting", q.keys.Prefix, ownerID)
}
func (q *Queue) ownerRunningKey(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:running", q.keys.Prefix, ownerID)
}
func (q *Queue) ownerSuccessKey(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:success", q.keys.Prefix, ownerID)
}
func (q *Queue) ownerFailedKey(ownerID string) string {
	return fmt.Sprintf("%s:owner:%s:failed", q.keys.Prefix, ownerID)
}

// Enqueue adds a job to the waiting list.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.Status = "queued"
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), job)
	if job.OwnerID != "" {
		pipe.SAdd(ctx, q.ownerWaitingKey(job.OwnerID), job.ID)
	}
	pipe.LPush(ctx, q.keys.WaitingQueue, job.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	slog.Info("job enqueued", "job_id", job.ID, "video_id", job.VideoID)
	return nil
}

// Dequeue blocks up to BlockTimeout for the next job. Returns (nil, nil)
// on timeout with nothing available.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BRPop(ctx, BlockTimeout, q.keys.WaitingQueue).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid BRPOP result: %v", result)
	}
	return q.GetJob(ctx, result[1])
}

// StartJob marks an owner as having a running job. Returns false if the
// owner already has one running, since each owner gets one active job at
// a time.
func (q *Queue) StartJob(ctx context.Context, ownerID, jobID string) (bool, error) {
	started, err := q.client.HSetNX(ctx, q.keys.RunningUsersKey, ownerID, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("mark owner running: %w", err)
	}
	if started {
		pipe := q.client.Pipeline()
		pipe.HSet(ctx, q.jobKey(jobID), "status", "running")
		pipe.SAdd(ctx, q.keys.RunningQueue, jobID)
		pipe.SMove(ctx, q.ownerWaitingKey(ownerID), q.ownerRunningKey(ownerID), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("failed to update job status on start", "error", err, "job_id", jobID)
		}
	}
	return started, nil
}

// CompleteJob marks a job complete and releases the owner's running slot.
func (q *Queue) CompleteJob(ctx context.Context, ownerID, jobID string) error {
	pipe := q.client.Pipeline()
	pipe.HDel(ctx, q.keys.RunningUsersKey, ownerID)
	if jobID != "" {
		pipe.SRem(ctx, q.keys.RunningQueue, jobID)
		pipe.HSet(ctx, q.jobKey(jobID), "status", "completed")
		pipe.Expire(ctx, q.jobKey(jobID), JobRetention)
		pipe.SAdd(ctx, q.keys.SuccessSet, jobID)
		pipe.SMove(ctx, q.ownerRunningKey(ownerID), q.ownerSuccessKey(ownerID), jobID)
		pipe.ZAdd(ctx, q.keys.CleanupSet, redis.Z{
			Score:  float64(time.Now().Add(JobRetention).Unix()),
			Member: fmt.Sprintf("%s:%s", ownerID, jobID),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob moves a job to the failed set with a reason and releases the
// owner's running slot if this job holds it; a job rejected because the
// owner already has one running leaves that job's slot in place.
func (q *Queue) FailJob(ctx context.Context, job *Job, reason string) error {
	holder, err := q.client.HGet(ctx, q.keys.RunningUsersKey, job.OwnerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("fail job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{"status": "failed", "fail_reason": reason})
	pipe.SAdd(ctx, q.keys.FailedSet, job.ID)
	pipe.Expire(ctx, q.jobKey(job.ID), JobRetention)
	if holder == job.ID {
		pipe.HDel(ctx, q.keys.RunningUsersKey, job.OwnerID)
	}
	pipe.SRem(ctx, q.ownerRunningKey(job.OwnerID), job.ID)
	pipe.SRem(ctx, q.ownerWaitingKey(job.OwnerID), job.ID)
	pipe.SAdd(ctx, q.ownerFailedKey(job.OwnerID), job.ID)
	pipe.ZAdd(ctx, q.keys.CleanupSet, redis.Z{
		Score:  float64(time.Now().Add(JobRetention).Unix()),
		Member: fmt.Sprintf("%s:%s", job.OwnerID, job.ID),
	})
	pipe.SRem(ctx, q.keys.RunningQueue, job.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	slog.Warn("job failed", "job_id", job.ID, "owner_id", job.OwnerID, "reason", reason)
	return nil
}

// QueueLength returns the number of jobs waiting.
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.keys.WaitingQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// GetJob retrieves a job by id. Returns (nil, nil) if not found.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := q.client.HGetAll(ctx, q.jobKey(jobID)).Scan(&job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

func (q *Queue) getJobsFromIDs(ctx context.Context, jobIDs []string) ([]*Job, error) {
	var jobs []*Job
	for _, id := range jobIDs {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			slog.Error("failed to fetch job", "job_id", id, "error", err)
			continue
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// GetOwnerJobs retrieves all jobs across waiting/running/success/failed for
// an owner.
func (q *Queue) GetOwnerJobs(ctx context.Context, ownerID string) ([]*Job, error) {
	jobIDs, err := q.client.SUnion(ctx,
		q.ownerWaitingKey(ownerID), q.ownerRunningKey(ownerID),
		q.ownerSuccessKey(ownerID), q.ownerFailedKey(ownerID),
	).Result()
	if err != nil {
		return nil, err
	}
	return q.getJobsFromIDs(ctx, jobIDs)
}

// GetWaitingJobs returns an owner's waiting jobs, approximately ordered by
// CreatedAt since Redis sets are unordered.
func (q *Queue) GetWaitingJobs(ctx context.Context, ownerID string) ([]*Job, error) {
	if ownerID == "" {
		return nil, ErrOwnerIDRequired
	}
	jobIDs, err := q.client.SMembers(ctx, q.ownerWaitingKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get waiting jobs: %w", err)
	}
	jobs, err := q.getJobsFromIDs(ctx, jobIDs)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// Close closes the underlying Redis client.
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// CleanupExpiredJobs sweeps terminal job bookkeeping whose retention
// window has passed.
func (q *Queue) CleanupExpiredJobs(ctx context.Context) error {
	now := float64(time.Now().Unix())
	items, err := q.client.ZRangeByScore(ctx, q.keys.CleanupSet, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("get expired jobs: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	slog.Info("cleaning up expired jobs", "count", len(items))

	const batchSize = 100
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]

		pipe := q.client.Pipeline()
		for _, item := range batch {
			parts := strings.SplitN(item, ":", 2)
			if len(parts) != 2 {
				pipe.ZRem(ctx, q.keys.CleanupSet, item)
				continue
			}
			ownerID, jobID := parts[0], parts[1]

			pipe.SRem(ctx, q.keys.SuccessSet, jobID)
			pipe.SRem(ctx, q.keys.FailedSet, jobID)
			pipe.SRem(ctx, q.ownerWaitingKey(ownerID), jobID)
			pipe.SRem(ctx, q.ownerRunningKey(ownerID), jobID)
			pipe.SRem(ctx, q.ownerSuccessKey(ownerID), jobID)
			pipe.SRem(ctx, q.ownerFailedKey(ownerID), jobID)
			pipe.ZRem(ctx, q.keys.CleanupSet, item)
			pipe.Del(ctx, q.jobKey(jobID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("failed to cleanup batch", "error", err)
		}
	}
	return nil
}
