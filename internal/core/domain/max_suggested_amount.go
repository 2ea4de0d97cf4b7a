package domain

import (
	"fmt"
	"slices"
	"sync"
)

var DefaultAmountDividers = []int64{10_000, 1_000, 100, 10, 1}

type AmountTier struct {
	Divider  int64
	MaxValue int64
}

// MaxSuggestedAmountProvider cycles through ascending amount tiers, one step
// per successful round, so that small coins get rounds of their own before
// admission widens again.
type MaxSuggestedAmountProvider struct {
	lock    *sync.RWMutex
	tiers   []AmountTier
	counter uint64
}

// NewMaxSuggestedAmountProvider derives the tiers by dividing the max
// registrable amount by each divider. Tiers that collapse to the same value
// are merged.
func NewMaxSuggestedAmountProvider(
	maxRegistrableAmount int64, dividers []int64,
) (*MaxSuggestedAmountProvider, error) {
	if maxRegistrableAmount <= 0 {
		return nil, fmt.Errorf("max registrable amount must be positive")
	}
	if len(dividers) == 0 {
		dividers = DefaultAmountDividers
	}

	tiers := make([]AmountTier, 0, len(dividers))
	for _, divider := range dividers {
		if divider <= 0 {
			return nil, fmt.Errorf("invalid divider %d", divider)
		}
		value := maxRegistrableAmount / divider
		if value <= 0 {
			continue
		}
		tiers = append(tiers, AmountTier{divider, value})
	}
	return NewMaxSuggestedAmountProviderFromTiers(tiers)
}

func NewMaxSuggestedAmountProviderFromTiers(
	tiers []AmountTier,
) (*MaxSuggestedAmountProvider, error) {
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b AmountTier) int {
		switch {
		case a.MaxValue < b.MaxValue:
			return -1
		case a.MaxValue > b.MaxValue:
			return 1
		default:
			return 0
		}
	})
	sorted = slices.CompactFunc(sorted, func(a, b AmountTier) bool {
		return a.MaxValue == b.MaxValue
	})
	if len(sorted) == 0 {
		return nil, fmt.Errorf("at least one amount tier is required")
	}

	return &MaxSuggestedAmountProvider{
		lock:  &sync.RWMutex{},
		tiers: sorted,
	}, nil
}

func (p *MaxSuggestedAmountProvider) MaxSuggestedAmount() int64 {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.tiers[p.counter%uint64(len(p.tiers))].MaxValue
}

func (p *MaxSuggestedAmountProvider) StepMaxSuggested() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.counter++
}

// ResetMaxSuggested jumps to the largest tier.
func (p *MaxSuggestedAmountProvider) ResetMaxSuggested() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.counter = uint64(len(p.tiers) - 1)
}

func (p *MaxSuggestedAmountProvider) Tiers() []AmountTier {
	return slices.Clone(p.tiers)
}
