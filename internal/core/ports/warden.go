package ports

import (
	"context"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
)

type Warden interface {
	Start() error
	Stop()
	// IsBanned returns the active ban expiring last for the outpoint, if any.
	IsBanned(outpoint domain.Outpoint, now time.Time) (*domain.Offender, bool)
	// Punish records the offender unless an active ban of the same kind
	// exists for the outpoint. It returns whether a new entry was recorded.
	Punish(offender domain.Offender) bool
	BanDurations() domain.BanDurations
	GetOffenders(ctx context.Context, outpoint *domain.Outpoint) ([]domain.Offender, error)
}
