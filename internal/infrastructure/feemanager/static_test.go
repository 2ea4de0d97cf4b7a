package feemanager

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticFeeRateProvider(t *testing.T) {
	provider, err := NewStaticFeeRateProvider(2000)
	require.NoError(t, err)
	rate, err := provider.GetFeeRate(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(2000), rate)

	_, err = NewStaticFeeRateProvider(0)
	require.Error(t, err)
}

func TestBoundedFeeRateProvider(t *testing.T) {
	testCases := []struct {
		description string
		rate        int64
		min, max    int64
		expected    int64
	}{
		{"within bounds", 5000, 1000, 10000, 5000},
		{"below min", 500, 1000, 10000, 1000},
		{"above max", 50000, 1000, 10000, 10000},
		{"no upper bound", 50000, 1000, 0, 50000},
	}
	for _, tt := range testCases {
		t.Run(tt.description, func(t *testing.T) {
			source, err := NewStaticFeeRateProvider(tt.rate)
			require.NoError(t, err)
			provider, err := NewBoundedFeeRateProvider(source, tt.min, tt.max)
			require.NoError(t, err)
			rate, err := provider.GetFeeRate(t.Context())
			require.NoError(t, err)
			require.Equal(t, tt.expected, rate)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		source, err := NewStaticFeeRateProvider(1000)
		require.NoError(t, err)
		for _, bounds := range [][2]int64{{-1, 0}, {2000, 1000}} {
			_, err := NewBoundedFeeRateProvider(source, bounds[0], bounds[1])
			require.Error(t, err, fmt.Sprint(bounds))
		}
		_, err = NewBoundedFeeRateProvider(nil, 0, 0)
		require.Error(t, err)
	})
}
