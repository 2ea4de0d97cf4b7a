package ports

import "github.com/arkade-os/cjd/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Rounds() domain.RoundRepository
	Offenders() domain.OffenderRepository
	Close()
}
