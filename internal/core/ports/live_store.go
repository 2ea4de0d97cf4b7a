package ports

import (
	"context"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
)

// RoundState is the public snapshot of a round shared with clients and
// other replicas.
type RoundState struct {
	RoundId       string
	Phase         domain.Phase
	EndRoundState domain.EndRoundState
	PhaseEndTime  time.Time
	BlameOf       string
	Parameters    domain.RoundParameters
	InputCount    int
	OutputCount   int
	Txid          string
	Version       uint64
	UpdatedAt     time.Time
}

func NewRoundState(round *domain.Round, now time.Time) RoundState {
	return RoundState{
		RoundId:       round.Id,
		Phase:         round.Phase,
		EndRoundState: round.EndRoundState,
		PhaseEndTime:  round.PhaseDeadline,
		BlameOf:       round.BlameOf,
		Parameters:    round.Parameters,
		InputCount:    len(round.Alices),
		OutputCount:   len(round.Bobs),
		Txid:          round.CoinjoinState.Txid,
		Version:       round.Version,
		UpdatedAt:     now,
	}
}

type LiveStore interface {
	RoundStates() RoundStateStore
}

type RoundStateStore interface {
	// Upsert stores the state unless a more recent version is already stored.
	Upsert(ctx context.Context, state RoundState) error
	// Get returns nil if no state is stored for the round.
	Get(ctx context.Context, roundId string) (*RoundState, error)
	GetAll(ctx context.Context) ([]RoundState, error)
	Delete(ctx context.Context, roundId string) error
}
