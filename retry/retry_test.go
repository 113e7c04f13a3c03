package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func fastPolicy() Policy {
	return Policy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2, MaxAttempts: 3}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	e := New(fastPolicy())
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	e := New(fastPolicy())
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoFailsFastOnPermanentError(t *testing.T) {
	e := New(fastPolicy())
	calls := 0
	permanent := apperrors.New(apperrors.CodeValidationFailed, "bad row")
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperrors.New(apperrors.CodeValidationFailed, ""))
}

func TestDoExhaustsAttempts(t *testing.T) {
	e := New(fastPolicy())
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("i/o timeout")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, fastPolicy().MaxAttempts+1, calls)
	assert.Equal(t, apperrors.CodeConnectionLost, apperrors.CodeOf(err))
}

func TestDoHonorsCancellation(t *testing.T) {
	e := New(fastPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := e.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.CodeOf(err))
}

func TestDoInvokesOnRetryHook(t *testing.T) {
	e := New(fastPolicy())
	var attempts []int
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	}, func(ctx context.Context, attempt int, lastErr error) error {
		attempts = append(attempts, attempt)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, attempts)
}

func TestDoRecordsRetryAttemptMetric(t *testing.T) {
	reg := metrics.New(prometheus.NewRegistry())
	e := New(fastPolicy()).WithMetrics(reg)
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, nil)
	require.NoError(t, err)

	families, err := reg.Prometheus().Gather()
	require.NoError(t, err)

	var total float64
	for _, fam := range families {
		if fam.GetName() != "transferengine_retry_attempts_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), total)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("syntax error near SELECT")))
	assert.True(t, IsTransient(apperrors.New(apperrors.CodeConnectionLost, "dropped")))
	assert.False(t, IsTransient(apperrors.New(apperrors.CodeNotFound, "missing")))
}
