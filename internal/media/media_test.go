package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/config"
)

func TestIsUnsupportedCodec(t *testing.T) {
	cases := []struct {
		codec string
		want  bool
	}{
		{"mjpeg", true},
		{"png", true},
		{"h264", false},
		{"vp9", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isUnsupportedCodec(tc.codec), tc.codec)
	}
}

func TestChunkAudioBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not really audio but small"), 0o644))

	p := New()
	chunks, err := p.ChunkAudio(context.Background(), path, 1<<20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, path, chunks[0].Path)
	assert.Equal(t, 0.0, chunks[0].StartOffsetS)
}

func TestCompressSkipsAboveCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))

	p := New()
	out, bytesWritten, skipped, err := p.Compress(context.Background(), path, config.CompressionConfig{
		CRF: 26, MaxWidth: 1920, MaxHeight: 1080, MaxFPS: 30,
		AudioBitrateKbps: 128, Preset: "medium",
		SkipAboveBytes: 1024,
	})
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, path, out)
	assert.EqualValues(t, 2048, bytesWritten)
}
