package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/media"
	"videobrief/internal/speech"
)

type fakeSpeechClient struct {
	mu       sync.Mutex
	byPath   map[string]speech.Result
	errPaths map[string]error
	calls    []string
}

func (f *fakeSpeechClient) Transcribe(ctx context.Context, chunkPath string) (speech.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chunkPath)
	f.mu.Unlock()

	if err, ok := f.errPaths[chunkPath]; ok {
		return speech.Result{}, err
	}
	return f.byPath[chunkPath], nil
}

func writeChunkFile(t *testing.T, name string, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestTranscribeMergesSegmentsInOrderWithOffsets(t *testing.T) {
	chunk0 := writeChunkFile(t, "chunk0.mp3", 10)
	chunk1 := writeChunkFile(t, "chunk1.mp3", 20)

	client := &fakeSpeechClient{byPath: map[string]speech.Result{
		chunk0: {Text: "hello", ModelUsed: "primary", Segments: []speech.Segment{{Start: 0, End: 2, Text: "hello"}}},
		chunk1: {Text: "world", ModelUsed: "primary", Segments: []speech.Segment{{Start: 0, End: 1.5, Text: "world"}}},
	}}

	e := New(client, 2, "primary")
	result, err := e.Transcribe(context.Background(), []media.Chunk{
		{Path: chunk0, StartOffsetS: 0},
		{Path: chunk1, StartOffsetS: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.FullText)
	assert.Equal(t, "primary", result.ModelUsed)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, 0.0, result.Segments[0].StartS)
	assert.Equal(t, 2.0, result.Segments[1].StartS)
	assert.Equal(t, 3.5, result.Segments[1].EndS)
	assert.EqualValues(t, 30, result.AudioBytes)
}

func TestTranscribeReportsFallbackModel(t *testing.T) {
	chunk0 := writeChunkFile(t, "chunk0.mp3", 1)
	chunk1 := writeChunkFile(t, "chunk1.mp3", 1)

	client := &fakeSpeechClient{byPath: map[string]speech.Result{
		chunk0: {Text: "a", ModelUsed: "primary"},
		chunk1: {Text: "b", ModelUsed: "fallback"},
	}}

	e := New(client, 2, "primary")
	result, err := e.Transcribe(context.Background(), []media.Chunk{
		{Path: chunk0, StartOffsetS: 0},
		{Path: chunk1, StartOffsetS: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.ModelUsed)
}

func TestTranscribeReportsFallbackWhenFirstChunkFellBack(t *testing.T) {
	chunk0 := writeChunkFile(t, "chunk0.mp3", 1)
	chunk1 := writeChunkFile(t, "chunk1.mp3", 1)

	client := &fakeSpeechClient{byPath: map[string]speech.Result{
		chunk0: {Text: "a", ModelUsed: "fallback"},
		chunk1: {Text: "b", ModelUsed: "primary"},
	}}

	e := New(client, 2, "primary")
	result, err := e.Transcribe(context.Background(), []media.Chunk{
		{Path: chunk0, StartOffsetS: 0},
		{Path: chunk1, StartOffsetS: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.ModelUsed)
}

type countingSpeechClient struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *countingSpeechClient) Transcribe(ctx context.Context, chunkPath string) (speech.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return speech.Result{Text: "x", ModelUsed: "primary"}, nil
}

func TestTranscribeBoundsConcurrentSpeechCalls(t *testing.T) {
	chunks := make([]media.Chunk, 8)
	for i := range chunks {
		chunks[i] = media.Chunk{
			Path:         writeChunkFile(t, fmt.Sprintf("chunk%d.mp3", i), 1),
			StartOffsetS: float64(i),
		}
	}

	client := &countingSpeechClient{}
	e := New(client, 3, "primary")
	_, err := e.Transcribe(context.Background(), chunks)
	require.NoError(t, err)
	assert.LessOrEqual(t, client.peak.Load(), int32(3))
}

func TestTranscribeFailsWhenAnyChunkFails(t *testing.T) {
	chunk0 := writeChunkFile(t, "chunk0.mp3", 1)
	chunk1 := writeChunkFile(t, "chunk1.mp3", 1)

	client := &fakeSpeechClient{
		byPath:   map[string]speech.Result{chunk1: {Text: "ok"}},
		errPaths: map[string]error{chunk0: fmt.Errorf("boom")},
	}

	e := New(client, 1, "primary")
	_, err := e.Transcribe(context.Background(), []media.Chunk{
		{Path: chunk0, StartOffsetS: 0},
		{Path: chunk1, StartOffsetS: 1},
	})
	require.Error(t, err)
}
