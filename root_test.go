package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/quark-mirror/internal/config"
)

func TestBuildLogger_Levels(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		level  string
		flags  CLIFlags
		want   slog.Level
		reject slog.Level
	}{
		{"config default", "info", CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"config error", "error", CLIFlags{}, slog.LevelError, slog.LevelWarn},
		{"verbose wins", "error", CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet wins", "debug", CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := buildLogger(&buf, config.LoggingConfig{LogLevel: tt.level, LogFormat: "text"}, tt.flags)
			assert.True(t, logger.Handler().Enabled(ctx, tt.want))
			assert.False(t, logger.Handler().Enabled(ctx, tt.reject))
		})
	}
}

func TestBuildLogger_Formats(t *testing.T) {
	var buf bytes.Buffer

	// A buffer is not a terminal, so auto picks JSON.
	buildLogger(&buf, config.LoggingConfig{LogLevel: "info", LogFormat: "auto"}, CLIFlags{}).
		Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	buildLogger(&buf, config.LoggingConfig{LogLevel: "info", LogFormat: "text"}, CLIFlags{}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestMustCLIContext_Panics(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{}
	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)
	assert.Same(t, cc, mustCLIContext(ctx))
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"worker"}, {"parse"}, {"provision"}, {"status"}, {"list"}, {"retry"}, {"reset"},
		{"dead", "list"}, {"dead", "requeue"}, {"dead", "clear"},
		{"stats"}, {"credential", "validate"}, {"config", "show"}, {"config", "init"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestParseMediaID(t *testing.T) {
	id, err := parseMediaID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "task_abc"} {
		_, err := parseMediaID(bad)
		assert.Error(t, err, bad)
	}
}
