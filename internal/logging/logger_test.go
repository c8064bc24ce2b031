package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/omochice/linkchat/internal/config"
	"github.com/omochice/linkchat/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"INFO", zap.InfoLevel},
		{"warning", zap.WarnLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"verbose", zap.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, logging.ParseLevel(tt.in).Level())
		})
	}
}

func TestSetup_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "linkchat.log")

	logger, err := logging.Setup(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("session established", zap.String("remote", "mem:a"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "session established", entry["msg"])
	assert.Equal(t, "mem:a", entry["remote"])
	assert.Equal(t, "info", entry["level"])
}

func TestSetup_RotatedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rotated.log")

	logger, err := logging.Setup(config.LogConfig{
		Level:   "debug",
		Format:  "console",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: target,
		},
	})
	require.NoError(t, err)

	logger.Debug("probe failed")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "probe failed")
}
