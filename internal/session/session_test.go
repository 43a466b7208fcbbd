package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleWithinWindow(t *testing.T) {
	s := Schedule{RecordStartMinute: 6 * 60, RecordEndMinute: 22 * 60}
	in := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	out := time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)
	require.True(t, s.withinWindow(in))
	require.False(t, s.withinWindow(out))
}

func TestScheduleNextStartSameDay(t *testing.T) {
	s := Schedule{RecordStartMinute: 6 * 60, RecordEndMinute: 22 * 60}
	from := time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC)
	next := s.nextStart(from)
	require.Equal(t, time.Date(2026, 7, 29, 6, 0, 0, 0, time.UTC), next)
}

func TestScheduleNextStartRollsToNextDay(t *testing.T) {
	s := Schedule{RecordStartMinute: 6 * 60, RecordEndMinute: 22 * 60}
	from := time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)
	next := s.nextStart(from)
	require.Equal(t, time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC), next)
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := Idle; s <= Aborted; s++ {
		require.NotEqual(t, "unknown", s.String())
	}
}
