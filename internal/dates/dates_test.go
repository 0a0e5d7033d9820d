package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestProvider_TodayAndYesterday(t *testing.T) {
	tests := []struct {
		name      string
		timezone  string
		now       time.Time
		today     string
		yesterday string
	}{
		{
			name:      "midday",
			timezone:  DefaultTimezone,
			now:       time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			today:     "2024-06-02",
			yesterday: "2024-06-01",
		},
		{
			name:      "utc already next day, sao paulo still previous",
			timezone:  DefaultTimezone,
			now:       time.Date(2024, 6, 3, 2, 30, 0, 0, time.UTC),
			today:     "2024-06-02",
			yesterday: "2024-06-01",
		},
		{
			name:      "just after local midnight",
			timezone:  DefaultTimezone,
			now:       time.Date(2024, 6, 3, 3, 2, 0, 0, time.UTC),
			today:     "2024-06-03",
			yesterday: "2024-06-02",
		},
		{
			name:      "month boundary",
			timezone:  DefaultTimezone,
			now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			today:     "2024-03-01",
			yesterday: "2024-02-29",
		},
		{
			name:      "day after spring-forward transition",
			timezone:  "America/New_York",
			now:       time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC),
			today:     "2024-03-11",
			yesterday: "2024-03-10",
		},
		{
			name:      "day after fall-back transition",
			timezone:  "America/New_York",
			now:       time.Date(2024, 11, 4, 5, 30, 0, 0, time.UTC),
			today:     "2024-11-04",
			yesterday: "2024-11-03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.timezone, fixed(tt.now))
			require.NoError(t, err)
			assert.Equal(t, tt.today, p.Today())
			assert.Equal(t, tt.yesterday, p.Yesterday())
		})
	}
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", nil)
	assert.Error(t, err)
}

func TestNew_DefaultsTimezone(t *testing.T) {
	p, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, p.Location().String())
}

func TestProvider_IsFuture(t *testing.T) {
	p, err := New(DefaultTimezone, fixed(time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	assert.True(t, p.IsFuture("2024-06-03"))
	assert.False(t, p.IsFuture("2024-06-02"))
	assert.False(t, p.IsFuture("2024-06-01"))
}

func TestTracked(t *testing.T) {
	assert.True(t, Tracked("2024-06-02", "2024-06-02"))
	assert.True(t, Tracked("2030-01-01", "2024-06-02"))
	assert.False(t, Tracked("2024-06-01", "2024-06-02"))
	assert.False(t, Tracked("", "2024-06-02"))
}

func TestShiftAndValid(t *testing.T) {
	next, err := Shift("2024-12-31", 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", next)

	_, err = Shift("31/12/2024", 1)
	assert.Error(t, err)

	assert.True(t, Valid("2024-02-29"))
	assert.False(t, Valid("2023-02-29"))
	assert.False(t, Valid("2024-6-2"))
}
