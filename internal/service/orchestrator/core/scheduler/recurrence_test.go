package scheduler

import (
	"testing"
	"time"

	orcModel "neotask/internal/model/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 为周一
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name     string
		schedule orcModel.TaskSchedule
		now      time.Time
		want     time.Time
	}{
		{"hourly", orcModel.TaskSchedule{Frequency: orcModel.FrequencyHourly}, at(19, 10, 17), at(19, 11, 17)},
		{"daily later today", orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}, at(19, 8, 0), at(19, 9, 0)},
		{"daily already passed", orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}, at(19, 10, 0), at(20, 9, 0)},
		{"daily exactly now", orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}, at(19, 9, 0), at(20, 9, 0)},
		{"weekly monday after time", orcModel.TaskSchedule{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{1, 3}}, at(19, 10, 0), at(21, 9, 0)},
		{"weekly monday before time", orcModel.TaskSchedule{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{1, 3}}, at(19, 8, 0), at(19, 9, 0)},
		{"weekly wraps to next week", orcModel.TaskSchedule{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{3, 1}}, at(21, 10, 0), at(26, 9, 0)},
		{"weekly sunday", orcModel.TaskSchedule{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "18:30", DaysOfWeek: []int{0}}, at(19, 10, 0), at(25, 18, 30)},
		{"cron", orcModel.TaskSchedule{Frequency: orcModel.FrequencyCron, Cron: "*/15 * * * *"}, at(19, 10, 7), at(19, 10, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok, err := NextRun(&tt.schedule, tt.now, time.UTC)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(next), "want %s, got %s", tt.want, next)
		})
	}
}

func TestNextRunOnceStops(t *testing.T) {
	_, ok, err := NextRun(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyOnce}, at(19, 10, 0), time.UTC)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = NextRun(nil, at(19, 10, 0), time.UTC)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextRunEndDate(t *testing.T) {
	end := at(19, 23, 0)
	s := &orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00", EndDate: &end}

	_, ok, err := NextRun(s, at(19, 10, 0), time.UTC)
	require.NoError(t, err)
	assert.False(t, ok)

	next, ok, err := NextRun(s, at(19, 8, 0), time.UTC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at(19, 9, 0).Equal(next))
}

func TestNextRunStartDate(t *testing.T) {
	start := at(23, 9, 0)

	daily := &orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00", StartDate: &start}
	next, ok, err := NextRun(daily, at(19, 10, 0), time.UTC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at(23, 9, 0).Equal(next), "got %s", next)

	hourly := &orcModel.TaskSchedule{Frequency: orcModel.FrequencyHourly, StartDate: &start}
	next, ok, err = NextRun(hourly, at(19, 10, 0), time.UTC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(next))
}

func TestNextRunTimezone(t *testing.T) {
	cst := time.FixedZone("CST", 8*3600)
	s := &orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}

	// UTC 00:00 即 CST 08:00，下次运行为 CST 09:00 即 UTC 01:00
	next, ok, err := NextRun(s, at(19, 0, 0), cst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at(19, 1, 0).Equal(next), "got %s", next.UTC())
}

func TestValidate(t *testing.T) {
	invalid := []orcModel.TaskSchedule{
		{Frequency: "monthly"},
		{Frequency: orcModel.FrequencyDaily},
		{Frequency: orcModel.FrequencyDaily, TimeOfDay: "25:00"},
		{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "09:00"},
		{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{7}},
		{Frequency: orcModel.FrequencyCron},
		{Frequency: orcModel.FrequencyCron, Cron: "not a cron"},
	}
	for _, s := range invalid {
		err := Validate(&s)
		assert.True(t, orcModel.IsKind(err, orcModel.KindConfiguration), "%+v: %v", s, err)
	}

	end := at(18, 0, 0)
	start := at(19, 0, 0)
	assert.Error(t, Validate(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyHourly, StartDate: &start, EndDate: &end}))

	assert.NoError(t, Validate(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyOnce}))
	assert.NoError(t, Validate(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyWeekly, TimeOfDay: "9:05", DaysOfWeek: []int{1}}))
}

func TestFirstRun(t *testing.T) {
	now := at(19, 10, 0)

	first, ok, err := FirstRun(nil, now, time.UTC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, now.Equal(first))

	start := at(20, 12, 0)
	first, ok, err = FirstRun(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyOnce, StartDate: &start}, now, time.UTC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, start.Equal(first))

	first, ok, err = FirstRun(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily, TimeOfDay: "09:00"}, now, time.UTC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at(20, 9, 0).Equal(first))

	_, _, err = FirstRun(&orcModel.TaskSchedule{Frequency: orcModel.FrequencyDaily}, now, time.UTC)
	assert.Error(t, err)
}
