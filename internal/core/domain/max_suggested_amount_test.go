package domain_test

import (
	"testing"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestMaxSuggestedAmountProvider(t *testing.T) {
	base := int64(100_000)

	t.Run("cycles through tiers", func(t *testing.T) {
		provider, err := domain.NewMaxSuggestedAmountProviderFromTiers([]domain.AmountTier{
			{Divider: 1, MaxValue: 8 * base},
			{Divider: 2, MaxValue: 4 * base},
			{Divider: 4, MaxValue: 2 * base},
			{Divider: 8, MaxValue: 1 * base},
		})
		require.NoError(t, err)
		require.Equal(t, base, provider.MaxSuggestedAmount())

		expected := []int64{2 * base, 4 * base, 8 * base, base}
		for _, amount := range expected {
			provider.StepMaxSuggested()
			require.Equal(t, amount, provider.MaxSuggestedAmount())
		}

		provider.ResetMaxSuggested()
		require.Equal(t, 8*base, provider.MaxSuggestedAmount())
		provider.StepMaxSuggested()
		require.Equal(t, base, provider.MaxSuggestedAmount())
	})

	t.Run("derived from max registrable amount", func(t *testing.T) {
		provider, err := domain.NewMaxSuggestedAmountProvider(8*base, []int64{8, 4, 2, 1, 1})
		require.NoError(t, err)
		require.Len(t, provider.Tiers(), 4)
		require.Equal(t, base, provider.MaxSuggestedAmount())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := domain.NewMaxSuggestedAmountProvider(0, nil)
		require.Error(t, err)
		_, err = domain.NewMaxSuggestedAmountProvider(base, []int64{0})
		require.Error(t, err)
		_, err = domain.NewMaxSuggestedAmountProviderFromTiers(nil)
		require.Error(t, err)
	})
}
