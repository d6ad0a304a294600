package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videobrief/internal/config"
	"videobrief/internal/job"
	"videobrief/internal/media"
	"videobrief/internal/notes"
	"videobrief/internal/objectstore"
	"videobrief/internal/queue"
	"videobrief/internal/speech"
	"videobrief/internal/store"
	"videobrief/internal/transcription"
)

func main() {
	// Initialize structured logging with JSON handler
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	cfg := config.Load()

	jobQueue, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		slog.Error("Failed to connect to job queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	videoStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer videoStore.Close()

	objects, err := objectstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("Failed to connect to object store", "error", err)
		os.Exit(1)
	}

	speechClient := speech.New(cfg.Speech)
	runner := job.New(
		videoStore,
		objects,
		media.New(),
		transcription.New(speechClient, cfg.MaxConcurrentTranscriptions, cfg.Speech.PrimaryModel),
		notes.New(cfg.Notes),
		cfg,
	)

	// Start cleanup ticker (every hour)
	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	slog.Info("Worker started, waiting for jobs...")

	// Main worker loop
	for {
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, shutting down")
			return
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down gracefully", "signal", sig)
			cancel()
			return
		case <-cleanupTicker.C:
			slog.Info("Running scheduled cleanup")
			if err := jobQueue.CleanupExpiredJobs(ctx); err != nil {
				slog.Error("Failed to cleanup expired jobs", "error", err)
			}
		default:
			// Dequeue job (blocks until job available or timeout)
			qjob, err := jobQueue.Dequeue(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				slog.Error("Failed to dequeue job", "error", err)
				continue
			}

			if qjob == nil {
				// Timeout, no job available - loop continues
				continue
			}

			// Try to mark owner as running
			started, err := jobQueue.StartJob(ctx, qjob.OwnerID, qjob.ID)
			if err != nil {
				slog.Error("Failed to mark job as started", "error", err, "job_id", qjob.ID)
				jobQueue.FailJob(ctx, qjob, "Failed to acquire owner lock")
				continue
			}

			if !started {
				// Owner already has a running job - fail this one (don't hold lock)
				slog.Warn("Owner already has running job, failing new job",
					"owner_id", qjob.OwnerID, "job_id", qjob.ID)
				jobQueue.FailJob(ctx, qjob, "Owner already has a job being processed")
				continue
			}

			// Exactly one of FailJob or CompleteJob runs per job: the
			// failure branch returns before reaching CompleteJob.
			func() {
				slog.Info("Processing job", "job_id", qjob.ID, "owner_id", qjob.OwnerID, "video_id", qjob.VideoID)

				if err := runner.Run(ctx, qjob.VideoID); err != nil {
					slog.Error("Job processing failed", "error", err, "job_id", qjob.ID)
					if err := jobQueue.FailJob(ctx, qjob, err.Error()); err != nil {
						slog.Error("Failed to record job failure", "error", err, "owner_id", qjob.OwnerID)
					}
					return
				}

				slog.Info("Job completed successfully", "job_id", qjob.ID)
				if err := jobQueue.CompleteJob(ctx, qjob.OwnerID, qjob.ID); err != nil {
					slog.Error("Failed to release owner lock", "error", err, "owner_id", qjob.OwnerID)
				}
			}()
		}
	}
}
