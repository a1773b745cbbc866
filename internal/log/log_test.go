package log_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/voenkogel/Nautilus/internal/log"
	"github.com/voenkogel/Nautilus/internal/model"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.String("scan_id", "abc"))
	ctx = log.ContextAttrs(ctx, slog.String("request_id", "def"))
	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "hello", record["msg"])
	require.Equal(t, "abc", record["scan_id"])
	require.Equal(t, "def", record["request_id"])
}

func TestNewVerbose(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	logger := log.New(&buf, false)
	logger.Debug("dropped")
	require.Empty(t, buf.String())

	logger = log.New(&buf, true)
	logger.Debug("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSink(t *testing.T) {
	t.Parallel()
	t.Run("builtin", func(t *testing.T) {
		for name, want := range map[string]io.Writer{
			"":               os.Stderr,
			model.LogStderr:  os.Stderr,
			model.LogStdout:  os.Stdout,
			model.LogDiscard: io.Discard,
		} {
			w, closeFn, err := log.Sink(name)
			require.NoError(t, err)
			require.Equal(t, want, w)
			require.NoError(t, closeFn())
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nautilus.log")
		w, closeFn, err := log.Sink(path)
		require.NoError(t, err)
		_, err = w.Write([]byte("line\n"))
		require.NoError(t, err)
		require.NoError(t, closeFn())

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "line\n", string(b))
	})

	t.Run("bad path", func(t *testing.T) {
		_, _, err := log.Sink(filepath.Join(t.TempDir(), "missing", "nautilus.log"))
		require.Error(t, err)
	})
}
