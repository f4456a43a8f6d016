package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSpacesRequests(t *testing.T) {
	const (
		rps   = 50.0
		waits = 5
	)
	l := New(rps)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < waits; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	elapsed := time.Since(start)

	// The first acquisition is free; the rest are spaced 1/rps apart.
	minElapsed := time.Duration(float64(waits-1) / rps * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minElapsed)
}

func TestWaitSharedAcrossGoroutines(t *testing.T) {
	const (
		rps   = 100.0
		waits = 4
	)
	l := New(rps)
	ctx := context.Background()

	start := time.Now()
	done := make(chan error, waits)
	for i := 0; i < waits; i++ {
		go func() {
			done <- l.Wait(ctx)
		}()
	}
	for i := 0; i < waits; i++ {
		require.NoError(t, <-done)
	}
	elapsed := time.Since(start)

	minElapsed := time.Duration(float64(waits-1) / rps * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minElapsed)
}

func TestWaitCanceledContext(t *testing.T) {
	l := New(0.01)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx))

	cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestNewClampsNonPositiveRate(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// The floor keeps a zero-valued config from blocking forever; the first
	// token is still immediate.
	assert.NoError(t, l.Wait(ctx))
}
