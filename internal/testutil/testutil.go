// Package testutil provides shared helpers for Tidemark tests.
package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// NewTestContext returns a context bounded at 30 seconds, long past the
// point where any test here should be considered hung.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// NewTestLogger returns a silent logger for components under test.
// Switch to NewTestLoggerWithOutput when a failure needs diagnosing.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(io.Discard).With().Timestamp().Logger()
}

// NewTestLoggerWithOutput returns a logger that writes through t.Log, so
// component output lands next to the test's own failure messages.
func NewTestLoggerWithOutput(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(testWriter{t: t}).With().Timestamp().Logger()
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
