// Package job runs the per-video processing pipeline: the sequential
// steps that take one uploaded Video from Uploaded/Failed through
// Processing to Completed or Failed, fanning out only at the
// transcription step.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videobrief/internal/config"
	"videobrief/internal/media"
	"videobrief/internal/store"
	"videobrief/internal/transcription"
)

// Store is the subset of *store.Store the runner depends on.
type Store interface {
	GetVideoForProcessing(ctx context.Context, id string) (*store.Video, error)
	AcquireForProcessing(ctx context.Context, id string) (bool, error)
	CompleteProcessing(ctx context.Context, id string, durationS *float64) error
	FailProcessing(ctx context.Context, id, reason string) error
	UpdateStorageKey(ctx context.Context, id, key string, byteSize int64) error
	UpsertTranscription(ctx context.Context, t *store.Transcription) error
	UpdateNotes(ctx context.Context, videoID string, notes *store.StructuredNotes, modelUsed string, durationMS int64) error
	SetStreamReady(ctx context.Context, id, playlistKey string) error
	SetStreamFailed(ctx context.Context, id string) error
}

// ObjectStore is the subset of *objectstore.Gateway the runner depends on.
type ObjectStore interface {
	GetToLocal(ctx context.Context, key, tmpDir string) (string, error)
	PutLocal(ctx context.Context, path, key, contentType string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// MediaProcessor is the subset of *media.Processor the runner depends on.
type MediaProcessor interface {
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	Compress(ctx context.Context, inPath string, cfg config.CompressionConfig) (outPath string, bytes int64, skipped bool, err error)
	ExtractAudio(ctx context.Context, path string) (audioPath string, bytes int64, err error)
	ChunkAudio(ctx context.Context, path string, maxChunkBytes int64) ([]media.Chunk, error)
}

// TranscriptionEngine is the subset of *transcription.Engine the runner
// depends on.
type TranscriptionEngine interface {
	Transcribe(ctx context.Context, chunks []media.Chunk) (transcription.Result, error)
}

// NotesClient is the subset of *notes.Client the runner depends on.
type NotesClient interface {
	Generate(ctx context.Context, transcriptText string, segments []store.Segment) (*store.StructuredNotes, error)
}

// Runner executes the pipeline for one Video id.
type Runner struct {
	store       Store
	objects     ObjectStore
	media       MediaProcessor
	transcriber TranscriptionEngine
	notes       NotesClient
	cfg         *config.Config
}

// New builds a Runner from its collaborators.
func New(st Store, objects ObjectStore, mediaProcessor MediaProcessor, transcriber TranscriptionEngine, notesClient NotesClient, cfg *config.Config) *Runner {
	return &Runner{store: st, objects: objects, media: mediaProcessor, transcriber: transcriber, notes: notesClient, cfg: cfg}
}

// Run drives one Video through the full pipeline. It is safe to call again
// on a Video left in Failed: every step repeats and the Transcription row
// is overwritten atomically.
func (r *Runner) Run(ctx context.Context, videoID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobDeadline)
	defer cancel()

	video, err := r.store.GetVideoForProcessing(ctx, videoID)
	if err != nil {
		return fmt.Errorf("load video %s: %w", videoID, err)
	}

	acquired, err := r.store.AcquireForProcessing(ctx, videoID)
	if err != nil {
		return fmt.Errorf("acquire video %s: %w", videoID, err)
	}
	if !acquired {
		slog.Info("video not eligible for processing, skipping", "video_id", videoID, "status", video.Status)
		return nil
	}

	scratchDir, err := os.MkdirTemp("", "videobrief-job-*")
	if err != nil {
		r.fail(ctx, videoID, fmt.Errorf("create scratch dir: %w", err))
		return err
	}
	defer os.RemoveAll(scratchDir)

	if err := r.process(ctx, video, scratchDir); err != nil {
		r.fail(ctx, videoID, err)
		return err
	}
	return nil
}

func (r *Runner) process(ctx context.Context, video *store.Video, scratchDir string) error {
	videoID := video.ID

	downloadCtx, cancel := context.WithTimeout(ctx, r.cfg.StepDeadline)
	srcPath, err := r.objects.GetToLocal(downloadCtx, video.StorageKey, scratchDir)
	cancel()
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	probeResult, err := r.media.Probe(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}

	mediaPath := srcPath
	compressCtx, cancel := context.WithTimeout(ctx, r.cfg.StepDeadline)
	outPath, outBytes, skipped, err := r.media.Compress(compressCtx, srcPath, r.cfg.Compression)
	cancel()
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if !skipped {
		newKey := compressedKey(video.StorageKey)
		putCtx, cancel := context.WithTimeout(ctx, r.cfg.StepDeadline)
		_, putErr := r.objects.PutLocal(putCtx, outPath, newKey, "video/mp4")
		cancel()
		if putErr == nil {
			if delErr := r.objects.Delete(ctx, video.StorageKey); delErr != nil {
				slog.Warn("failed to delete pre-compression object", "video_id", videoID, "error", delErr)
			}
			if err := r.store.UpdateStorageKey(ctx, videoID, newKey, outBytes); err != nil {
				slog.Warn("failed to persist compressed storage key", "video_id", videoID, "error", err)
			}
			mediaPath = outPath
			video.StorageKey = newKey
		} else {
			slog.Warn("compressed artifact upload failed, retaining original", "video_id", videoID, "error", putErr)
		}
	}

	audioPath, _, err := r.media.ExtractAudio(ctx, mediaPath)
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}

	transcriptionStart := time.Now()
	chunks, err := r.media.ChunkAudio(ctx, audioPath, r.cfg.AudioChunkThresholdBytes)
	if err != nil {
		return fmt.Errorf("chunk audio: %w", err)
	}

	result, err := r.transcriber.Transcribe(ctx, chunks)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	transcription := &store.Transcription{
		VideoID:              videoID,
		TranscriptText:       result.FullText,
		TranscriptSegments:   result.Segments,
		ModelUsed:            result.ModelUsed,
		ProcessingDurationMS: time.Since(transcriptionStart).Milliseconds(),
		AudioSizeBytes:       result.AudioBytes,
	}
	if err := r.store.UpsertTranscription(ctx, transcription); err != nil {
		return fmt.Errorf("persist transcription: %w", err)
	}

	// Notes are a value-add, not a correctness requirement: failure here
	// is logged and the pipeline continues.
	notesStart := time.Now()
	notesDoc, err := r.notes.Generate(ctx, result.FullText, result.Segments)
	if err != nil {
		slog.Warn("notes generation failed, continuing without notes", "video_id", videoID, "error", err)
	} else {
		durationMS := time.Since(notesStart).Milliseconds()
		if err := r.store.UpdateNotes(ctx, videoID, notesDoc, r.cfg.Notes.Model, durationMS); err != nil {
			slog.Warn("failed to persist notes", "video_id", videoID, "error", err)
		}
	}

	if err := r.store.SetStreamReady(ctx, videoID, video.StorageKey); err != nil {
		slog.Warn("failed to mark stream ready", "video_id", videoID, "error", err)
		if err := r.store.SetStreamFailed(ctx, videoID); err != nil {
			slog.Warn("failed to mark stream failed", "video_id", videoID, "error", err)
		}
	}

	var durationS *float64
	if video.DurationS != nil {
		durationS = video.DurationS
	} else if probeResult.DurationS > 0 {
		d := probeResult.DurationS
		durationS = &d
	}
	if err := r.store.CompleteProcessing(ctx, videoID, durationS); err != nil {
		return fmt.Errorf("complete processing: %w", err)
	}
	slog.Info("job completed", "video_id", videoID)
	return nil
}

// fail persists the Failed transition. The write runs detached from the
// job context so a deadline breach can still be recorded.
func (r *Runner) fail(ctx context.Context, videoID string, cause error) {
	slog.Error("job failed", "video_id", videoID, "error", cause)
	if err := r.store.FailProcessing(context.WithoutCancel(ctx), videoID, cause.Error()); err != nil {
		slog.Error("failed to persist job failure", "video_id", videoID, "error", err)
	}
}

// compressedKey derives the post-compression object key from the original,
// e.g. "videos/owner/id.mov" -> "videos/owner/id_compressed.mp4".
func compressedKey(original string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	return base + "_compressed.mp4"
}
