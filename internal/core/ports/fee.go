package ports

import "context"

type FeeRateProvider interface {
	// GetFeeRate returns the mining fee rate in sats per kvB.
	GetFeeRate(ctx context.Context) (int64, error)
}
