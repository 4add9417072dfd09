package testutil

import (
	"log/slog"
	"strings"
	"testing"
)

// Logger returns a debug-level slog.Logger writing through t.Log, so output
// only shows up for failing or verbose tests.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(tWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type tWriter struct{ t *testing.T }

func (w tWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
