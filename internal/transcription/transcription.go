// Package transcription orchestrates chunked transcription:
// bounded-parallel fan-out of audio chunks to a speech client, with
// offset-shifted segment merging and fail-fast cancellation of siblings.
package transcription

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"videobrief/internal/apperr"
	"videobrief/internal/media"
	"videobrief/internal/speech"
	"videobrief/internal/store"
)

// SpeechClient is the collaborator the engine fans chunks out to.
type SpeechClient interface {
	Transcribe(ctx context.Context, chunkPath string) (speech.Result, error)
}

// Result is the merged output of transcribing every chunk of one video.
type Result struct {
	FullText   string
	Segments   []store.Segment
	ModelUsed  string
	AudioBytes int64
}

// Engine implements TranscriptionEngine.
type Engine struct {
	speech       SpeechClient
	concurrency  int
	primaryModel string
}

// New builds an Engine; concurrency is the semaphore size bounding
// simultaneous speech calls, and primaryModel is the model the speech
// client tries first, used to recognize when a chunk fell back.
func New(speechClient SpeechClient, concurrency int, primaryModel string) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{speech: speechClient, concurrency: concurrency, primaryModel: primaryModel}
}

type chunkResult struct {
	text      string
	segments  []store.Segment
	modelUsed string
	bytes     int64
}

// Transcribe submits chunks to the speech client under a semaphore of size
// Engine.concurrency. Segment times are shifted by each chunk's start
// offset before merging in chunk order, so the merged output is monotonic
// non-decreasing in start_s. If any chunk fails after its own retries,
// pending siblings are cancelled and TranscriptionFailed is raised
// carrying the originating cause.
func (e *Engine) Transcribe(ctx context.Context, chunks []media.Chunk) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, apperr.TranscriptionFailed(fmt.Errorf("no chunks to transcribe"), "transcribe")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chunkResult, len(chunks))
	sem := make(chan struct{}, e.concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i, chunk := range chunks {
		mu.Lock()
		hasErr := firstErr != nil
		mu.Unlock()
		if hasErr {
			break
		}

		wg.Add(1)
		go func(idx int, c media.Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			mu.Lock()
			if firstErr != nil {
				mu.Unlock()
				return
			}
			mu.Unlock()

			res, err := e.speech.Transcribe(ctx, c.Path)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}

			var size int64
			if info, statErr := os.Stat(c.Path); statErr == nil {
				size = info.Size()
			}

			shifted := make([]store.Segment, len(res.Segments))
			for j, seg := range res.Segments {
				shifted[j] = store.Segment{
					StartS: seg.Start + c.StartOffsetS,
					EndS:   seg.End + c.StartOffsetS,
					Text:   seg.Text,
				}
			}

			mu.Lock()
			results[idx] = chunkResult{text: res.Text, segments: shifted, modelUsed: res.ModelUsed, bytes: size}
			mu.Unlock()
		}(i, chunk)
	}

	wg.Wait()

	if firstErr == nil {
		// A cancelled parent context can drain the goroutines without any
		// of them recording an error; an empty merge must not pass for a
		// completed transcription.
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return Result{}, apperr.TranscriptionFailed(firstErr, "transcribe chunk")
	}

	texts := make([]string, 0, len(results))
	var segments []store.Segment
	var audioBytes int64

	modelUsed := results[0].modelUsed
	for _, r := range results {
		texts = append(texts, r.text)
		segments = append(segments, r.segments...)
		audioBytes += r.bytes
		// If any chunk fell back off the primary model, report that
		// fallback; callers should see the weakest model that contributed.
		if r.modelUsed != "" && r.modelUsed != e.primaryModel {
			modelUsed = r.modelUsed
		}
	}

	return Result{
		FullText:   strings.Join(texts, " "),
		Segments:   segments,
		ModelUsed:  modelUsed,
		AudioBytes: audioBytes,
	}, nil
}
