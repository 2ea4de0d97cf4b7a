package application

import (
	"context"
	"strings"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/pkg/errors"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

type adminService struct {
	repoManager ports.RepoManager
	warden      ports.Warden
	archiver    ports.TxArchiver
	clock       clock.Clock
}

func NewAdminService(
	repoManager ports.RepoManager, warden ports.Warden, archiver ports.TxArchiver,
	clk clock.Clock,
) AdminService {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &adminService{
		repoManager: repoManager,
		warden:      warden,
		archiver:    archiver,
		clock:       clk,
	}
}

func (a *adminService) GetOffenders(
	ctx context.Context, outpoint *domain.Outpoint,
) ([]BannedInput, errors.Error) {
	offenders, err := a.warden.GetOffenders(ctx, outpoint)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}

	now := a.clock.Now()
	durations := a.warden.BanDurations()
	banned := make([]BannedInput, 0, len(offenders))
	for _, offender := range offenders {
		banned = append(banned, BannedInput{
			Offender:    offender,
			BannedUntil: offender.BannedUntil(durations),
			IsActive:    offender.IsActive(now, durations),
		})
	}
	return banned, nil
}

func (a *adminService) GetRoundHistory(
	ctx context.Context, roundId string,
) (*RoundHistory, errors.Error) {
	round, err := a.repoManager.Rounds().GetRoundWithId(ctx, roundId)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, roundNotFound(roundId)
		}
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	if round == nil {
		return nil, roundNotFound(roundId)
	}

	return &RoundHistory{
		Id:             round.Id,
		Phase:          round.Phase,
		EndRoundState:  round.EndRoundState,
		EndReason:      round.EndReason,
		BlameOf:        round.BlameOf,
		StartedAt:      round.StartingTimestamp,
		EndedAt:        round.EndingTimestamp,
		InputCount:     len(round.Alices),
		OutputCount:    len(round.Bobs),
		Txid:           round.CoinjoinState.Txid,
		MiningFeeRate:  round.Parameters.MiningFeeRate,
		MaxSuggested:   round.Parameters.MaxSuggestedAmount,
		IsBlameRound:   round.IsBlameRound(),
		BlameWhitelist: round.BlameWhitelist,
	}, nil
}

func (a *adminService) GetRoundIds(
	ctx context.Context, after, before int64,
) ([]string, errors.Error) {
	if after > 0 && before > 0 && after >= before {
		return nil, errors.INVALID_REQUEST.New("after must be lower than before").
			WithMetadata(map[string]any{"after": after, "before": before})
	}

	ids, err := a.repoManager.Rounds().GetRoundIds(ctx, after, before)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	log.Debugf("found %d rounds", len(ids))
	return ids, nil
}

func (a *adminService) GetArchivedTx(
	ctx context.Context, txid string,
) (*ports.ArchivedTx, errors.Error) {
	if len(txid) != 64 {
		return nil, errors.INVALID_REQUEST.New("invalid txid %s", txid).
			WithMetadata(map[string]any{"txid": txid})
	}

	tx, err := a.archiver.Get(ctx, txid)
	if err != nil {
		return nil, errors.INVALID_REQUEST.Wrap(err).WithMetadata(map[string]any{"txid": txid})
	}
	return tx, nil
}
