package license

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusValid, StatusActive, true},
		{StatusValid, StatusExpired, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusValid, false},
		{StatusExpired, StatusActive, false},
		{StatusExpired, StatusValid, false},
		{StatusActive, StatusActive, false},
		{Status("revoked"), StatusExpired, false},
		{StatusValid, Status("revoked"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestParseWindow(t *testing.T) {
	kolkata := mustLoad(t, "Asia/Kolkata")

	start, end, err := ParseWindow("01-01-2024", "31-12-2024", kolkata)
	require.NoError(t, err)

	assert.Equal(t, time.UTC, start.Location())
	assert.Equal(t, time.Date(2023, 12, 31, 18, 30, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 12, 31, 18, 29, 59, 0, time.UTC), end)
}

func TestParseWindowErrors(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		wantErr    string
	}{
		{"bad start", "2024-01-01", "31-12-2024", "parse start date"},
		{"bad end", "01-01-2024", "31/12/2024", "parse end date"},
		{"impossible day", "31-02-2024", "31-12-2024", "parse start date"},
		{"reversed", "02-01-2024", "01-01-2024", "before start date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseWindow(tt.start, tt.end, time.UTC)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEndBoundary(t *testing.T) {
	kolkata := mustLoad(t, "Asia/Kolkata")
	end := time.Date(2024, 12, 31, 23, 59, 59, 0, kolkata)

	boundary := EndBoundary(end, kolkata)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, kolkata), boundary)

	// The last second of the day is still before the boundary.
	assert.True(t, end.Before(boundary))
}

func TestNormalizeWindowDependsOnRegion(t *testing.T) {
	day := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	kStart, kEnd := NormalizeWindow(day, day, mustLoad(t, "Asia/Kolkata"))
	nStart, nEnd := NormalizeWindow(day, day, mustLoad(t, "America/New_York"))

	assert.NotEqual(t, kStart, nStart)
	assert.NotEqual(t, kEnd, nEnd)
	assert.Equal(t, 24*time.Hour-time.Second, kEnd.Sub(kStart))
	assert.Equal(t, 24*time.Hour-time.Second, nEnd.Sub(nStart))
}

func TestVerdictIsValid(t *testing.T) {
	var nilVerdict *Verdict
	assert.False(t, nilVerdict.IsValid())
	assert.False(t, (&Verdict{Status: VerdictExpired}).IsValid())
	assert.True(t, (&Verdict{Status: VerdictValid}).IsValid())
}
