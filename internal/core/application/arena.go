package application

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// tick advances every round by at most one step. Rounds are processed
// concurrently on the worker pool.
func (s *service) tick() {
	ctx := context.Background()
	start := time.Now()
	now := s.clock.Now()

	handles := s.liveRounds()
	s.checkDoubleSpends(ctx, handles, now)

	wg := &sync.WaitGroup{}
	for _, h := range handles {
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			s.processRound(ctx, h)
		})
	}
	wg.Wait()

	if err := s.ensureInputRegistrationRound(ctx); err != nil {
		log.WithError(err).Warn("failed to open input registration round")
	}
	s.evictEndedRounds(ctx, now)

	s.metrics.tickProcessed(time.Since(start).Seconds())
}

// processRound is a no-op if the round is already being processed.
func (s *service) processRound(ctx context.Context, h *roundHandle) {
	if !h.processing.TryLock() {
		return
	}
	defer h.processing.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic while processing round: %v\n%s", r, debug.Stack())
			summary, _ := s.update(ctx, h, func(round *domain.Round) error {
				round.End(
					domain.EndRoundStateAbortedWithError,
					fmt.Sprintf("unexpected error: %v", r), "", s.clock.Now(),
				)
				return nil
			})
			if summary != nil {
				s.onRoundEnded(*summary, "")
			}
		}
	}()

	now := s.clock.Now()
	var (
		offenders []domain.Offender
		signedTx  string
		blame     *roundHandle
	)
	summary, err := s.update(ctx, h, func(round *domain.Round) error {
		switch round.Phase {
		case domain.PhaseInputRegistration:
			return s.stepInputRegistration(round, now)
		case domain.PhaseConnectionConfirmation:
			var err error
			offenders, err = s.stepConnectionConfirmation(round, now)
			return err
		case domain.PhaseOutputRegistration:
			return s.stepOutputRegistration(round, now)
		case domain.PhaseTransactionSigning:
			signedTx, offenders, blame = s.stepTransactionSigning(round, now)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("round", h.round.Id).Warn("failed to advance round")
	}

	for _, offender := range offenders {
		s.punish(offender)
	}

	blameRoundId := ""
	if blame != nil {
		s.addRound(ctx, blame)
		blameRoundId = blame.round.Id
		log.WithField("round", blameRoundId).Infof(
			"opened blame round of %s for %d inputs",
			blame.round.BlameOf, len(blame.round.BlameWhitelist),
		)
	}

	if signedTx != "" {
		summary = s.broadcastCoinjoin(ctx, h, signedTx)
	}

	if summary != nil {
		s.onRoundEnded(*summary, blameRoundId)
	}
}

func (s *service) stepInputRegistration(round *domain.Round, now time.Time) error {
	lapsed := make([]string, 0)
	for _, alice := range round.Alices {
		if !now.Before(alice.Deadline) {
			lapsed = append(lapsed, alice.Id)
		}
	}
	if len(lapsed) > 0 {
		round.EvictAlices(lapsed, "connection lapsed")
		log.WithField("round", round.Id).Debugf("evicted %d lapsed inputs", len(lapsed))
	}

	// Every input of a blame round is known in advance.
	if round.IsBlameRound() && len(round.Alices) == len(round.BlameWhitelist) &&
		len(round.Alices) >= round.Parameters.MinInputCount {
		return round.StartConnectionConfirmation(now)
	}
	if len(round.Alices) >= round.Parameters.MaxInputCount {
		return round.StartConnectionConfirmation(now)
	}
	if !round.IsPhaseExpired(now) {
		return nil
	}

	if len(round.Alices) < round.Parameters.MinInputCount {
		round.End(
			domain.EndRoundStateNotEnoughParticipants,
			fmt.Sprintf(
				"%d/%d inputs registered", len(round.Alices), round.Parameters.MinInputCount,
			),
			"", now,
		)
		return nil
	}
	return round.StartConnectionConfirmation(now)
}

func (s *service) stepConnectionConfirmation(
	round *domain.Round, now time.Time,
) ([]domain.Offender, error) {
	if !round.AllAlicesConfirmed() && !round.IsPhaseExpired(now) {
		return nil, nil
	}

	unconfirmed := round.UnconfirmedAlices()
	offenders := make([]domain.Offender, 0, len(unconfirmed))
	ids := make([]string, 0, len(unconfirmed))
	for _, alice := range unconfirmed {
		offenders = append(offenders, domain.NewOffender(
			alice.Coin.Outpoint, now, domain.RoundDisruption{
				RoundIds: []string{round.Id},
				Amount:   alice.Coin.Amount,
				Method:   domain.DisruptionMethodDidNotConfirm,
			},
		))
		ids = append(ids, alice.Id)
	}
	round.EvictAlices(ids, "did not confirm connection")

	if len(round.Alices) < round.Parameters.MinInputCount {
		round.End(
			domain.EndRoundStateAbortedNotAllAlicesConfirmed,
			fmt.Sprintf("%d inputs did not confirm", len(ids)), "", now,
		)
		return offenders, nil
	}
	return offenders, round.StartOutputRegistration(now)
}

func (s *service) stepOutputRegistration(round *domain.Round, now time.Time) error {
	ready := false
	switch {
	case round.IsPhaseExpired(now):
		ready = true
	case round.Parameters.DelayTransactionSigning:
	case round.AllAlicesReadyToSign():
		ready = true
	default:
		ready = s.outputsCoverInputs(round)
	}
	if !ready {
		return nil
	}

	if len(round.Bobs) <= 0 {
		round.End(domain.EndRoundStateAbortedWithError, "no outputs registered", "", now)
		return nil
	}

	coins := round.Coins()
	unsignedTx, txid, err := s.builder.BuildCoinjoinTx(coins, round.Bobs)
	if err != nil {
		round.End(
			domain.EndRoundStateAbortedWithError,
			fmt.Sprintf("failed to build coinjoin: %s", err), "", now,
		)
		return nil
	}
	vsize, fee, err := s.builder.CheckTx(
		unsignedTx, coins, round.Parameters.MiningFeeRate, round.Parameters.MaxTransactionVsize,
	)
	if err != nil {
		round.End(
			domain.EndRoundStateAbortedWithError, fmt.Sprintf("invalid coinjoin: %s", err), "", now,
		)
		return nil
	}

	log.WithField("round", round.Id).Debugf(
		"assembled coinjoin %s: %d inputs, %d outputs, %d vB, %d sats fee",
		txid, len(round.Alices), len(round.Bobs), vsize, fee,
	)
	return round.StartTransactionSigning(now, unsignedTx, txid)
}

// outputsCoverInputs tells whether the registered outputs account for all the
// value brought by the inputs, net of mining fees.
func (s *service) outputsCoverInputs(round *domain.Round) bool {
	if len(round.Bobs) <= 0 {
		return false
	}

	available := int64(0)
	for _, alice := range round.Alices {
		vsize := s.builder.InputVsize(alice.Coin.PkScript)
		available += alice.Coin.Amount - round.Parameters.MiningFee(vsize)
	}
	registered := int64(0)
	for _, bob := range round.Bobs {
		vsize := s.builder.OutputVsize(bob.Script)
		registered += bob.Amount + round.Parameters.MiningFee(vsize)
	}
	return registered >= available
}

// stepTransactionSigning returns the finalized coinjoin once every witness is
// in. On timeout it bans the inputs that did not sign and prepares a blame
// round restricted to those that did. A blame round that cannot gather
// MinInputCount inputs ends with its own input registration timeout.
func (s *service) stepTransactionSigning(
	round *domain.Round, now time.Time,
) (string, []domain.Offender, *roundHandle) {
	if round.AllWitnessesCollected() {
		signedTx, err := s.builder.FinalizeTx(
			round.CoinjoinState.UnsignedTx, round.CoinjoinState.Witnesses,
		)
		if err != nil {
			round.End(
				domain.EndRoundStateAbortedWithError,
				fmt.Sprintf("failed to finalize coinjoin: %s", err), "", now,
			)
			return "", nil, nil
		}
		return signedTx, nil, nil
	}
	if !round.IsPhaseExpired(now) {
		return "", nil, nil
	}

	signers := make([]domain.Outpoint, 0)
	offenders := make([]domain.Offender, 0)
	for _, alice := range round.Alices {
		idx, err := s.builder.InputIndex(round.CoinjoinState.UnsignedTx, alice.Coin.Outpoint)
		if err == nil && round.HasWitness(idx) {
			signers = append(signers, alice.Coin.Outpoint)
			continue
		}
		method := domain.DisruptionMethodDidNotSign
		if !alice.ReadyToSign {
			method = domain.DisruptionMethodDidNotSignalReadyToSign
		}
		offenders = append(offenders, domain.NewOffender(
			alice.Coin.Outpoint, now, domain.RoundDisruption{
				RoundIds: []string{round.Id},
				Amount:   alice.Coin.Amount,
				Method:   method,
			},
		))
	}

	round.End(
		domain.EndRoundStateAbortedNotEnoughAlicesSigned,
		fmt.Sprintf("%d/%d inputs signed", len(signers), len(round.Alices)), "", now,
	)

	if len(signers) <= 0 {
		return "", offenders, nil
	}

	params := round.Parameters
	params.MaxSuggestedAmount = params.MaxRegistrableAmount
	blame, err := s.newRoundHandle(params, now, round.Id, signers)
	if err != nil {
		log.WithError(err).WithField("round", round.Id).Warn("failed to create blame round")
		return "", offenders, nil
	}
	return "", offenders, blame
}

// broadcastCoinjoin publishes the signed coinjoin and ends the round
// accordingly. A successful coinjoin is archived and tracked in the mempool.
func (s *service) broadcastCoinjoin(
	ctx context.Context, h *roundHandle, signedTx string,
) *roundSummary {
	_, broadcastErr := s.broadcaster.BroadcastTransaction(ctx, signedTx)

	now := s.clock.Now()
	summary, _ := s.update(ctx, h, func(round *domain.Round) error {
		if broadcastErr != nil {
			round.End(
				domain.EndRoundStateTransactionBroadcastFailed,
				fmt.Sprintf("failed to broadcast coinjoin: %s", broadcastErr), "", now,
			)
			return nil
		}
		round.End(domain.EndRoundStateSucceeded, "", signedTx, now)
		return nil
	})
	if broadcastErr != nil || summary == nil {
		return summary
	}

	s.mempool.track(summary.txid, now)
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, now, summary.txid, signedTx); err != nil {
			log.WithError(err).Warnf("failed to archive coinjoin %s", summary.txid)
		}
	}
	return summary
}

func (s *service) onRoundEnded(summary roundSummary, blameRoundId string) {
	s.metrics.roundEnded(summary.endRoundState.String())
	logger := log.WithField("round", summary.id)
	s.scheduleEviction(summary)

	switch summary.endRoundState {
	case domain.EndRoundStateSucceeded:
		logger.Infof(
			"round succeeded with coinjoin %s (%d inputs, %d outputs)",
			summary.txid, summary.inputCount, summary.outputCount,
		)
		if !summary.isBlameRound {
			s.maxSuggested.StepMaxSuggested()
		}
		go s.publishAlert(ports.RoundSucceeded, ports.RoundSucceededAlert{
			RoundId:      summary.id,
			Txid:         summary.txid,
			IsBlameRound: summary.isBlameRound,
			InputCount:   summary.inputCount,
			OutputCount:  summary.outputCount,
			TotalAmount:  summary.totalAmount,
			MiningFee:    summary.miningFee,
			Duration:     formatDuration(summary.startedAt, summary.endedAt),
		})
		return
	case domain.EndRoundStateNotEnoughParticipants:
		logger.Debugf("round ended in %s: %s", summary.phase, summary.reason)
		// Widen admission again when rounds fail to fill up.
		if !summary.isBlameRound {
			s.maxSuggested.ResetMaxSuggested()
		}
		return
	}

	logger.Warnf(
		"round ended in %s with state %s: %s",
		summary.phase, summary.endRoundState, summary.reason,
	)
	go s.publishAlert(ports.RoundFailed, ports.RoundFailedAlert{
		RoundId:       summary.id,
		EndRoundState: summary.endRoundState.String(),
		Reason:        summary.reason,
		Phase:         summary.phase.String(),
		InputCount:    summary.inputCount,
		BlameRoundId:  blameRoundId,
	})
}

// scheduleEviction drops the ended round from memory once the retention
// period is over. Rounds whose eviction can't be scheduled are picked up by
// the sweep at the end of every tick.
func (s *service) scheduleEviction(summary roundSummary) {
	at := time.Unix(summary.endedAt, 0).Add(s.config.RoundRetention)
	if err := s.scheduler.ScheduleTaskOnce(at, func() {
		s.evictRound(context.Background(), summary.id)
	}); err != nil {
		log.WithError(err).WithField("round", summary.id).Warn(
			"failed to schedule round eviction",
		)
	}
}

func (s *service) evictRound(ctx context.Context, roundId string) {
	h, ok := s.getHandle(roundId)
	if !ok {
		return
	}
	ended := false
	h.read(func(round *domain.Round) {
		ended = round.IsEnded()
	})
	if !ended {
		return
	}

	s.lock.Lock()
	delete(s.rounds, roundId)
	s.lock.Unlock()

	if err := s.liveStore.RoundStates().Delete(ctx, roundId); err != nil {
		log.WithError(err).WithField("round", roundId).Warn("failed to delete round state")
	}
	log.WithField("round", roundId).Debug("evicted ended round")
}

// evictEndedRounds drops from memory the rounds that ended more than the
// retention period ago. Their history stays in the event store.
func (s *service) evictEndedRounds(ctx context.Context, now time.Time) {
	s.lock.Lock()
	evicted := make([]string, 0)
	for id, h := range s.rounds {
		expired := false
		h.read(func(round *domain.Round) {
			expired = round.IsEnded() && now.Sub(h.endedAt) >= s.config.RoundRetention
		})
		if expired {
			delete(s.rounds, id)
			evicted = append(evicted, id)
		}
	}
	s.lock.Unlock()

	for _, id := range evicted {
		if err := s.liveStore.RoundStates().Delete(ctx, id); err != nil {
			log.WithError(err).WithField("round", id).Warn("failed to delete round state")
		}
	}
	if len(evicted) > 0 {
		log.Debugf("evicted %d ended rounds", len(evicted))
	}
}
