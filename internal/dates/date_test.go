package dates

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		start CanonicalDate
		n     int
		want  string
	}{
		{New(2024, time.January, 1), 1, "2024-02-01"},
		{New(2024, time.January, 31), 1, "2024-02-29"},
		{New(2023, time.January, 31), 1, "2023-02-28"},
		{New(2024, time.August, 31), 1, "2024-09-30"},
		{New(2024, time.November, 15), 3, "2025-02-15"},
		{New(2024, time.March, 31), -1, "2024-02-29"},
		{New(2024, time.January, 1), 12, "2025-01-01"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.start.AddMonths(tc.n).String())
	}
	assert.False(t, CanonicalDate{}.AddMonths(1).IsKnown())
}

func TestComparisonsWithUnknown(t *testing.T) {
	a := New(2024, time.March, 1)
	b := New(2024, time.March, 2)
	var u CanonicalDate

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(New(2024, time.March, 1)))
	assert.False(t, u.Before(a))
	assert.False(t, u.After(a))
	assert.False(t, a.Before(u))
	assert.False(t, u.Equal(u))
}

func TestParseCanonical(t *testing.T) {
	d, err := ParseCanonical("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	d, err = ParseCanonical(Unknown)
	require.NoError(t, err)
	assert.False(t, d.IsKnown())

	_, err = ParseCanonical("29/02/2024")
	assert.Error(t, err)
}

func TestCanonicalDateJSON(t *testing.T) {
	type doc struct {
		Start CanonicalDate `json:"start"`
		End   CanonicalDate `json:"end"`
	}
	raw, err := json.Marshal(doc{Start: New(2024, time.January, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-01-01","end":"unknown"}`, string(raw))

	var back doc
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "2024-01-01", back.Start.String())
	assert.False(t, back.End.IsKnown())
}

func TestTodayUsesLocation(t *testing.T) {
	now := time.Date(2024, time.March, 2, 3, 0, 0, 0, time.UTC)
	mx := time.FixedZone("CST", -6*3600)
	assert.Equal(t, "2024-03-01", Today(now, mx).String())
	assert.Equal(t, "2024-03-02", Today(now, nil).String())
}
