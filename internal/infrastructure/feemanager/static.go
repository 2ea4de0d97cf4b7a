package feemanager

import (
	"context"
	"fmt"

	"github.com/arkade-os/cjd/internal/core/ports"
)

type staticFeeRate struct {
	rate int64
}

// NewStaticFeeRateProvider always returns the given rate (sat/kvB).
func NewStaticFeeRateProvider(rate int64) (ports.FeeRateProvider, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("fee rate must be positive")
	}
	return &staticFeeRate{rate}, nil
}

func (f *staticFeeRate) GetFeeRate(_ context.Context) (int64, error) {
	return f.rate, nil
}

type boundedFeeRate struct {
	source   ports.FeeRateProvider
	min, max int64
}

// NewBoundedFeeRateProvider clamps the rate returned by source into
// [min, max]. A zero max disables the upper bound.
func NewBoundedFeeRateProvider(
	source ports.FeeRateProvider, min, max int64,
) (ports.FeeRateProvider, error) {
	if source == nil {
		return nil, fmt.Errorf("missing fee rate source")
	}
	if min < 0 || max < 0 {
		return nil, fmt.Errorf("fee rate bounds must not be negative")
	}
	if max > 0 && min > max {
		return nil, fmt.Errorf("min fee rate %d exceeds max %d", min, max)
	}
	return &boundedFeeRate{source, min, max}, nil
}

func (f *boundedFeeRate) GetFeeRate(ctx context.Context) (int64, error) {
	rate, err := f.source.GetFeeRate(ctx)
	if err != nil {
		return 0, err
	}
	if rate < f.min {
		return f.min, nil
	}
	if f.max > 0 && rate > f.max {
		return f.max, nil
	}
	return rate, nil
}
