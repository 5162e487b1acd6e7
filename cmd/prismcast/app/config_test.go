package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]string{"prismcast"}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 5004, cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.TimeoutS)
	assert.Equal(t, 4, cfg.HLS.SegmentDurationS)
	assert.Equal(t, 8, cfg.HLS.MaxSegments)
	assert.False(t, cfg.HLS.KeyframeDiagnostics)
	assert.Equal(t, 60, cfg.Stream.IdleTimeoutS)
	assert.Equal(t, 15, cfg.Stream.NoMediaTimeoutS)
	assert.Equal(t, "/tmp/channels.json", cfg.ChannelsFile)
	assert.False(t, cfg.Version)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := LoadConfig([]string{"prismcast",
		"--port", "8080",
		"--loglevel", "debug",
		"--hls.segmentduration", "6",
		"--hls.keyframediagnostics",
		"--stream.idletimeout", "120",
	}, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 6, cfg.HLS.SegmentDurationS)
	assert.True(t, cfg.HLS.KeyframeDiagnostics)
	assert.Equal(t, 120, cfg.Stream.IdleTimeoutS)
	// Untouched values keep their defaults.
	assert.Equal(t, 8, cfg.HLS.MaxSegments)
}

func TestLoadConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "cfg.json")
	data := []byte(`{"port": 9999, "hls": {"maxsegments": 12}, "channelsfile": "lineup.json"}`)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cfg, err := LoadConfig([]string{"prismcast", "--cfg", cfgPath}, "/srv/prismcast")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 12, cfg.HLS.MaxSegments)
	assert.Equal(t, "/srv/prismcast/lineup.json", cfg.ChannelsFile)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PRISMCAST_PORT", "7777")
	t.Setenv("PRISMCAST_HLS_MAXSEGMENTS", "10")
	cfg, err := LoadConfig([]string{"prismcast", "--port", "8080"}, "/tmp")
	require.NoError(t, err)
	// Environment wins over the command line.
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, 10, cfg.HLS.MaxSegments)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig([]string{"prismcast", "--hls.segmentduration", "0"}, "/tmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segmentduration")

	_, err = LoadConfig([]string{"prismcast", "--hls.maxsegments", "-1"}, "/tmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxsegments")
}

func TestLoadConfigVersionFlag(t *testing.T) {
	cfg, err := LoadConfig([]string{"prismcast", "--version"}, "/tmp")
	require.NoError(t, err)
	assert.True(t, cfg.Version)
}
