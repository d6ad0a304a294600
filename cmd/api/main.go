package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"videobrief/internal/api"
	"videobrief/internal/auth"
	"videobrief/internal/config"
	"videobrief/internal/dispatch"
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
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	videoStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer videoStore.Close()

	objects, err := objectstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		slog.Error("failed to connect to object store", "error", err)
		os.Exit(1)
	}

	var dispatcher *dispatch.Dispatcher
	jobQueue, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		slog.Warn("no job queue available, falling back to in-process execution", "error", err)
		speechClient := speech.New(cfg.Speech)
		runner := job.New(
			videoStore,
			objects,
			media.New(),
			transcription.New(speechClient, cfg.MaxConcurrentTranscriptions, cfg.Speech.PrimaryModel),
			notes.New(cfg.Notes),
			cfg,
		)
		dispatcher = dispatch.NewLocal(runner.Run)
	} else {
		defer jobQueue.Close()
		dispatcher = dispatch.New(jobQueue, cfg.Queue.KeyPrefix)
	}

	verifier := auth.New(cfg.Auth)
	server := api.New(videoStore, objects, dispatcher, objectstore.Key, cfg)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.CORSMiddleware())
	server.RegisterRoutes(router, auth.Middleware(verifier))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{Addr: ":" + port, Handler: router}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("videobrief API server started", "port", port)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server exited gracefully")
	}
}
