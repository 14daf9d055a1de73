package backoff

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{MaxAttempts: 4, Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, p.Delay(2))
	assert.Equal(t, 20*time.Millisecond, p.Delay(3))
	assert.Equal(t, 40*time.Millisecond, p.Delay(4))
	assert.Equal(t, 50*time.Millisecond, p.Delay(5))
	assert.Equal(t, 50*time.Millisecond, p.Delay(20))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.EqualError(t, err, "still failing")
	assert.Equal(t, 4, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	sentinel := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), fast, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, Initial: time.Hour}
	calls := 0
	go cancel()
	err := Retry(ctx, p, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWaitReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, WaitReady(context.Background(), srv.Client(), srv.URL, fast))
	assert.Equal(t, int32(3), hits.Load())
}
