package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/store"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "t1", store.KindManual)
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "t1", store.KindManual)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAlreadyRunning, apperrors.CodeOf(err))
}

func TestCancelTriggersContext(t *testing.T) {
	r := New()
	entry, err := r.Register(context.Background(), "t1", store.KindAuto)
	require.NoError(t, err)

	require.NoError(t, r.Cancel("t1", false, "user requested"))

	select {
	case <-entry.Context().Done():
	default:
		t.Fatal("expected cancellation context to be done")
	}

	got, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StateCancelling, got.snapshot().State)
}

func TestCompleteRemovesEntry(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "t1", store.KindManual)
	require.NoError(t, err)

	final, ok := r.Complete("t1", StateCompleted)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, final.State)

	_, stillThere := r.Get("t1")
	assert.False(t, stillThere)
}

// Invariant I2: once one auto/both-kind task is registered, a second
// auto/both-kind Register call must see GlobalBusy rather than slipping
// through.
func TestRegisterEnforcesAutoExclusivity(t *testing.T) {
	r := New()
	_, err := r.Register(context.Background(), "t1", store.KindAuto)
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "t2", store.KindBoth)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeGlobalBusy, apperrors.CodeOf(err))

	// A manual-kind task is unaffected by the exclusivity rule.
	_, err = r.Register(context.Background(), "t3", store.KindManual)
	require.NoError(t, err)
}

func TestRunningOfKindSingleFlight(t *testing.T) {
	r := New()
	assert.False(t, r.RunningOfKind(store.KindAuto, store.KindBoth))

	_, err := r.Register(context.Background(), "t1", store.KindBoth)
	require.NoError(t, err)

	assert.True(t, r.RunningOfKind(store.KindAuto, store.KindBoth))
	assert.False(t, r.RunningOfKind(store.KindManual))
}
