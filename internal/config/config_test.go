package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a stray config file out of the picture

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8765", cfg.Server.Addr)
	assert.Equal(t, "data/convert.db", cfg.Database.Path)
	assert.Equal(t, "uploads", cfg.Upload.Dir)
	assert.Equal(t, "outputs", cfg.Output.Dir)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.Bin)
	assert.Equal(t, "ffprobe", cfg.FFmpeg.ProbeBin)
	assert.Equal(t, 3, cfg.FFmpeg.MaxConcurrent)
	assert.Zero(t, cfg.FFmpeg.ThrottleCPU)
	assert.Empty(t, cfg.Storage.Bucket)
	assert.Equal(t, "convert-outputs", cfg.Storage.KeyPrefix)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONVERT_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("CONVERT_FFMPEG_BIN", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("CONVERT_FFMPEG_MAXCONCURRENT", "8")
	t.Setenv("CONVERT_STORAGE_BUCKET", "converted-media")
	t.Setenv("CONVERT_STORAGE_ENDPOINT", "http://localhost:9001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpeg.Bin)
	assert.Equal(t, 8, cfg.FFmpeg.MaxConcurrent)
	assert.Equal(t, "converted-media", cfg.Storage.Bucket)
	assert.Equal(t, "http://localhost:9001", cfg.Storage.Endpoint)
}
