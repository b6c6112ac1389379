package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
)

func testPolicy(t *testing.T, attempts int, opts ...Option) *Policy {
	t.Helper()
	return New(am.OutboundConfig{
		TimeoutSeconds:   1,
		MaxAttempts:      attempts,
		InitialBackoffMS: 1,
		MaxBackoffMS:     5,
	}, zaptest.NewLogger(t).Sugar(), opts...)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	p := testPolicy(t, 3)
	calls := 0

	got, err := Do(context.Background(), p, "flaky", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedIsUnavailable(t *testing.T) {
	p := testPolicy(t, 2)
	calls := 0

	_, err := Do(context.Background(), p, "down", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errors.IsServiceUnavailableError(err))
	assert.Contains(t, err.Error(), "down failed after 2 attempts")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := testPolicy(t, 5)
	calls := 0
	sentinel := errors.New("bad request")

	_, err := Do(context.Background(), p, "reject", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, errors.IsServiceUnavailableError(err))
}

func TestDo_AttemptTimeout(t *testing.T) {
	p := New(am.OutboundConfig{TimeoutSeconds: 1, MaxAttempts: 1}, nil)
	p.timeout = 20 * time.Millisecond

	_, err := Do(context.Background(), p, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestDo_CallerCancellation(t *testing.T) {
	p := testPolicy(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, p, "cancelled", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("interrupted")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_HookObservesAttempts(t *testing.T) {
	var observed int32
	p := testPolicy(t, 2, WithHook(func(op string, attempt int, elapsed time.Duration, err error) {
		atomic.AddInt32(&observed, 1)
		assert.Equal(t, "hooked", op)
	}))

	_, _ = Do(context.Background(), p, "hooked", func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	})

	assert.Equal(t, int32(2), atomic.LoadInt32(&observed))
}

func TestCheckResponse(t *testing.T) {
	codes := map[int]struct {
		ok        bool
		retryable bool
	}{
		http.StatusOK:                  {ok: true},
		http.StatusPartialContent:      {ok: true},
		http.StatusNotFound:            {},
		http.StatusTooManyRequests:     {retryable: true},
		http.StatusBadGateway:          {retryable: true},
		http.StatusInternalServerError: {retryable: true},
	}

	for code, want := range codes {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("body"))
		}))
		resp, err := http.Get(server.URL)
		require.NoError(t, err)

		checkErr := CheckResponse(resp)
		resp.Body.Close()
		server.Close()

		if want.ok {
			assert.NoError(t, checkErr, "code %d", code)
			continue
		}
		require.Error(t, checkErr, "code %d", code)
		assert.Equal(t, code, StatusCode(checkErr))

		var perm *backoff.PermanentError
		assert.Equal(t, !want.retryable, errors.As(checkErr, &perm), "code %d permanence", code)
	}
}
