package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/store"
)

func TestRescheduleInstallsCronEntryForValidHour(t *testing.T) {
	s := New(Deps{})
	err := s.reschedule(&store.ScheduleConfig{Hour: "02:30", Enabled: true})
	require.NoError(t, err)
	assert.NotZero(t, s.entryID)
}

func TestRescheduleSkipsWhenDisabled(t *testing.T) {
	s := New(Deps{})
	err := s.reschedule(&store.ScheduleConfig{Hour: "02:30", Enabled: false})
	require.NoError(t, err)
	assert.Zero(t, s.entryID)
}

func TestRescheduleRejectsInvalidHour(t *testing.T) {
	s := New(Deps{})
	err := s.reschedule(&store.ScheduleConfig{Hour: "bogus", Enabled: true})
	require.Error(t, err)
}

func TestRescheduleReplacesPriorEntry(t *testing.T) {
	s := New(Deps{})
	require.NoError(t, s.reschedule(&store.ScheduleConfig{Hour: "02:00", Enabled: true}))
	first := s.entryID
	require.NoError(t, s.reschedule(&store.ScheduleConfig{Hour: "03:00", Enabled: true}))
	assert.NotEqual(t, first, s.entryID)
}
