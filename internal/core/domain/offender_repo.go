package domain

import (
	"context"
	"time"
)

// OffenderRepository indexes the ban ledger for queries. The append-only
// ledger file stays the source of truth.
type OffenderRepository interface {
	Add(ctx context.Context, offenders ...Offender) error
	Get(ctx context.Context, id string) (*Offender, error)
	GetByOutpoint(ctx context.Context, outpoint Outpoint) ([]Offender, error)
	GetAll(ctx context.Context, from, to time.Time) ([]Offender, error)
	Close()
}
