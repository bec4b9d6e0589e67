package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownGivesEachStepItsOwnTimeout(t *testing.T) {
	var (
		order []string
		buf   bytes.Buffer
	)
	slow := func(ctx context.Context) error {
		order = append(order, "sessions")
		<-ctx.Done()
		return ctx.Err()
	}
	fresh := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			require.NoError(t, ctx.Err())
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.Greater(t, time.Until(deadline), 10*time.Millisecond)
			return nil
		}
	}

	shutdown(zerolog.New(&buf), 50*time.Millisecond,
		shutdownStep{msg: "session_stop_incomplete", run: slow},
		shutdownStep{msg: "http_shutdown_incomplete", run: fresh("http")},
		shutdownStep{msg: "cast_close_failed", run: fresh("cast")},
	)

	assert.Equal(t, []string{"sessions", "http", "cast"}, order)
	assert.Contains(t, buf.String(), "session_stop_incomplete")
	assert.NotContains(t, buf.String(), "http_shutdown_incomplete")
	assert.NotContains(t, buf.String(), "cast_close_failed")
}
