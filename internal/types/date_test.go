package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBillingDate(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		cycle BillingCycle
		want  time.Time
	}{
		{
			name:  "monthly",
			start: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
			cycle: BillingCycleMonthly,
			want:  time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "monthly clamps to end of february in a leap year",
			start: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			cycle: BillingCycleMonthly,
			want:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "semi annual crosses the year",
			start: time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
			cycle: BillingCycleSemiAnnual,
			want:  time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "annual from leap day",
			start: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			cycle: BillingCycleAnnual,
			want:  time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextBillingDate(tt.start, tt.cycle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextBillingDateInvalidCycle(t *testing.T) {
	_, err := NextBillingDate(time.Now(), BillingCycle("weekly"))
	assert.Error(t, err)
}

func TestFirstOfMonth(t *testing.T) {
	in := time.Date(2024, 7, 19, 23, 59, 0, 0, time.FixedZone("X", 3*3600))
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), FirstOfMonth(in))
}
