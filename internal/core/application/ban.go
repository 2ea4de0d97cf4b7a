package application

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/pkg/errors"
	"github.com/btcsuite/btcd/wire"
	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"
)

// punish records the offender in the ledger. Alerts and metrics are emitted
// only for new entries.
func (s *service) punish(offender domain.Offender) {
	if !s.warden.Punish(offender) {
		return
	}

	kind := offender.Reason.Kind()
	s.metrics.inputBanned(string(kind))

	bannedUntil := offender.BannedUntil(s.warden.BanDurations())
	go s.publishAlert(ports.InputBanned, ports.InputBannedAlert{
		Outpoint:    offender.Outpoint.String(),
		Reason:      offender.Reason.String(),
		BannedUntil: bannedUntil.Format(time.RFC3339),
	})
}

// fetchCoin resolves the outpoint to an unspent coin. The parent tx is
// returned as well for the ancestry check.
func (s *service) fetchCoin(
	ctx context.Context, outpoint domain.Outpoint,
) (*domain.Coin, *wire.MsgTx, errors.Error) {
	meta := errors.InputMetadata{Outpoint: outpoint.String()}

	parent, err := s.txProvider.GetTransaction(ctx, outpoint.Txid)
	if err != nil {
		return nil, nil, errors.INPUT_SPENT_OR_NOT_FOUND.Wrap(err).WithMetadata(meta)
	}
	if int(outpoint.VOut) >= len(parent.TxOut) {
		return nil, nil, errors.INPUT_SPENT_OR_NOT_FOUND.New(
			"tx %s has no output %d", outpoint.Txid, outpoint.VOut,
		).WithMetadata(meta)
	}

	spender, spent, err := s.mempool.observer.GetOutpointSpender(ctx, outpoint)
	if err != nil {
		return nil, nil, errors.INTERNAL_ERROR.New(
			"failed to check if %s is spent: %s", outpoint, err,
		)
	}
	if spent {
		return nil, nil, errors.INPUT_SPENT_OR_NOT_FOUND.New(
			"input %s already spent by %s", outpoint, spender,
		).WithMetadata(meta)
	}

	out := parent.TxOut[outpoint.VOut]
	return &domain.Coin{
		Outpoint: outpoint,
		Amount:   out.Value,
		PkScript: out.PkScript,
	}, parent, nil
}

// isOwnCoinjoin tells whether the tx was produced by one of our rounds.
func (s *service) isOwnCoinjoin(ctx context.Context, txid string) bool {
	if s.mempool.isCoinjoin(txid) {
		return true
	}
	if s.archiver == nil {
		return false
	}
	tx, err := s.archiver.Get(ctx, txid)
	return err == nil && tx != nil
}

// checkInheritedBan bans a coin whose parent tx spent a banned coin, so that
// a banned coin cannot be laundered through a self transfer.
func (s *service) checkInheritedBan(
	outpoint domain.Outpoint, parent *wire.MsgTx, now time.Time,
) errors.Error {
	ancestors := make([]domain.Outpoint, 0)
	for _, in := range parent.TxIn {
		prevout := domain.Outpoint{
			Txid: in.PreviousOutPoint.Hash.String(),
			VOut: in.PreviousOutPoint.Index,
		}
		if _, banned := s.warden.IsBanned(prevout, now); banned {
			ancestors = append(ancestors, prevout)
		}
	}
	if len(ancestors) <= 0 {
		return nil
	}

	offender := domain.NewOffender(outpoint, now, domain.Inherited{Ancestors: ancestors})
	s.punish(offender)
	return inputBanned(&offender, s.warden.BanDurations())
}

// checkDoubleSpends looks for registered coins spent outside of the rounds
// they are registered in. Such coins are banned citing every live round that
// contains them, and those rounds are aborted.
func (s *service) checkDoubleSpends(
	ctx context.Context, handles []*roundHandle, now time.Time,
) {
	type registration struct {
		h    *roundHandle
		id   string
		coin domain.Coin
	}

	outpoints := mapset.NewThreadUnsafeSet[domain.Outpoint]()
	ownTxids := make(map[domain.Outpoint]mapset.Set[string])
	registrations := make(map[domain.Outpoint][]registration)
	for _, h := range handles {
		h.read(func(round *domain.Round) {
			for _, coin := range round.Coins() {
				txid := round.CoinjoinState.Txid
				if txid != "" {
					if _, ok := ownTxids[coin.Outpoint]; !ok {
						ownTxids[coin.Outpoint] = mapset.NewThreadUnsafeSet[string]()
					}
					ownTxids[coin.Outpoint].Add(txid)
				}
				if round.IsEnded() {
					continue
				}
				outpoints.Add(coin.Outpoint)
				registrations[coin.Outpoint] = append(
					registrations[coin.Outpoint], registration{h, round.Id, coin},
				)
			}
		})
	}
	if outpoints.Cardinality() <= 0 {
		return
	}

	for outpoint, spender := range s.mempool.findSpent(ctx, outpoints) {
		regs := registrations[outpoint]
		spentByOwnCoinjoin := false
		if txids, ok := ownTxids[outpoint]; ok && txids.Contains(spender) {
			spentByOwnCoinjoin = true
		}

		roundIds := make([]string, 0, len(regs))
		for _, reg := range regs {
			roundIds = append(roundIds, reg.id)
		}

		if !spentByOwnCoinjoin {
			log.Warnf("registered input %s double spent by %s", outpoint, spender)
			s.punish(domain.NewOffender(outpoint, now, domain.RoundDisruption{
				RoundIds: roundIds,
				Amount:   regs[0].coin.Amount,
				Method:   domain.DisruptionMethodDoubleSpent,
			}))
		}

		for _, reg := range regs {
			summary, _ := s.update(ctx, reg.h, func(round *domain.Round) error {
				// The round's own coinjoin spending its inputs is expected.
				if round.CoinjoinState.Txid == spender {
					return nil
				}
				round.End(
					domain.EndRoundStateAbortedDoubleSpendingDetected,
					fmt.Sprintf("input %s spent by %s", outpoint, spender), "", now,
				)
				return nil
			})
			if summary != nil {
				s.onRoundEnded(*summary, "")
			}
		}
	}
}
