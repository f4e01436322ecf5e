package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItalianToUTC(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		hm      string
		wantUTC string
	}{
		{"winter CET", "17-01-2025", "10:00", "2025-01-17T09:00:00Z"},
		{"summer CEST", "17-07-2025", "10:00", "2025-07-17T08:00:00Z"},
		{"iso date accepted", "2025-01-17", "10:00", "2025-01-17T09:00:00Z"},
		{"midnight", "01-03-2025", "00:30", "2025-02-28T23:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ItalianToUTC(tt.date, tt.hm)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUTC, got.Format(time.RFC3339))
		})
	}
}

func TestItalianToUTC_Invalid(t *testing.T) {
	_, err := ItalianToUTC("17/01/2025", "10:00")
	assert.Error(t, err)
	_, err = ItalianToUTC("17-01-2025", "25:00")
	assert.Error(t, err)
	_, err = ItalianToUTC("17-13-2025", "10:00")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	// Away from DST transitions the conversion must be lossless.
	dates := []struct{ d, hm string }{
		{"03-02-2025", "09:15"},
		{"21-06-2025", "19:59"},
		{"15-11-2025", "08:00"},
	}
	for _, c := range dates {
		utc, err := ItalianToUTC(c.d, c.hm)
		require.NoError(t, err)
		d, hm := UTCToItalian(utc)
		assert.Equal(t, c.d, d)
		assert.Equal(t, c.hm, hm)
	}
}

func TestIsOperatingHours(t *testing.T) {
	// 07:59 Rome in winter is 06:59 UTC.
	early, _ := ItalianToUTC("17-01-2025", "07:59")
	assert.False(t, IsOperatingHours(early))

	open, _ := ItalianToUTC("17-01-2025", "08:00")
	assert.True(t, IsOperatingHours(open))

	late, _ := ItalianToUTC("17-01-2025", "19:59")
	assert.True(t, IsOperatingHours(late))

	closed, _ := ItalianToUTC("17-01-2025", "20:00")
	assert.False(t, IsOperatingHours(closed))
}

func TestIsWithinItalianBusiness(t *testing.T) {
	at8, _ := ItalianToUTC("17-01-2025", "08:30")
	assert.False(t, IsWithinItalianBusiness(at8))
	at9, _ := ItalianToUTC("17-01-2025", "09:00")
	assert.True(t, IsWithinItalianBusiness(at9))
}

func TestNextValidWorkday(t *testing.T) {
	// Friday 2025-03-14 → Monday 2025-03-17.
	fri := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Weekday(time.Monday), NextValidWorkday(fri).UTC().Weekday())
	assert.Equal(t, 17, NextValidWorkday(fri).UTC().Day())

	// Wednesday → Thursday.
	wed := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 13, NextValidWorkday(wed).UTC().Day())
}

func TestNextRomeClock(t *testing.T) {
	// Tuesday 2025-03-11 10:00 Rome, next 09:00 is Wednesday.
	now, _ := ItalianToUTC("11-03-2025", "10:00")
	next := NextRomeClock(now, 9, 0)
	d, hm := UTCToItalian(next)
	assert.Equal(t, "12-03-2025", d)
	assert.Equal(t, "09:00", hm)

	// Same day when the mark is still ahead.
	next = NextRomeClock(now, 14, 0)
	d, hm = UTCToItalian(next)
	assert.Equal(t, "11-03-2025", d)
	assert.Equal(t, "14:00", hm)

	// Friday evening 19:00 mark already passed → Monday.
	friEve, _ := ItalianToUTC("14-03-2025", "19:30")
	next = NextRomeClock(friEve, 19, 0)
	assert.Equal(t, time.Weekday(time.Monday), next.Weekday())
}

func TestParseFlexibleDateTime(t *testing.T) {
	a, err := ParseFlexibleDateTime("17-03-2025 10:00")
	require.NoError(t, err)
	b, err := ParseFlexibleDateTime("2025-03-17 10:00")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	_, err = ParseFlexibleDateTime("17-03-2025")
	assert.Error(t, err)
}
