package application

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/pkg/errors"
	"github.com/gammazero/workerpool"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTickPeriod     = time.Second
	defaultRoundRetention = 10 * time.Minute
	mempoolCheckPeriod    = 30 * time.Second
)

// roundHandle pairs a round with its credential issuers. lock guards the
// round, saveLock serializes persistence so that events reach the repository
// in the order they were raised, processing makes sure a round is advanced by
// a single goroutine at a time.
type roundHandle struct {
	lock       *sync.Mutex
	saveLock   *sync.Mutex
	processing *sync.Mutex

	round        *domain.Round
	amountIssuer ports.CredentialIssuer
	vsizeIssuer  ports.CredentialIssuer
	endedAt      time.Time
}

func (h *roundHandle) read(fn func(round *domain.Round)) {
	h.lock.Lock()
	defer h.lock.Unlock()

	fn(h.round)
}

type roundChanges struct {
	events  []domain.Event
	state   ports.RoundState
	summary *roundSummary
}

// apply runs fn with the round locked and collects what changed. On return
// the save lock is held and must be released by whoever persists changes.
func (h *roundHandle) apply(
	fn func(round *domain.Round) error, now time.Time,
) (roundChanges, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	wasEnded := h.round.IsEnded()
	phase := h.round.Phase

	err := fn(h.round)

	changes := roundChanges{
		events: h.round.Events(),
		state:  ports.NewRoundState(h.round, now),
	}
	h.round.ClearEvents()
	if !wasEnded && h.round.IsEnded() {
		h.endedAt = now
		summary := newRoundSummary(h.round, phase)
		changes.summary = &summary
	}

	h.saveLock.Lock()
	return changes, err
}

// roundSummary is the snapshot of a round taken when it ends.
type roundSummary struct {
	id            string
	isBlameRound  bool
	phase         domain.Phase
	endRoundState domain.EndRoundState
	reason        string
	txid          string
	inputCount    int
	outputCount   int
	totalAmount   int64
	miningFee     int64
	startedAt     int64
	endedAt       int64
}

func newRoundSummary(round *domain.Round, lastPhase domain.Phase) roundSummary {
	return roundSummary{
		id:            round.Id,
		isBlameRound:  round.IsBlameRound(),
		phase:         lastPhase,
		endRoundState: round.EndRoundState,
		reason:        round.EndReason,
		txid:          round.CoinjoinState.Txid,
		inputCount:    len(round.Alices),
		outputCount:   len(round.Bobs),
		totalAmount:   round.TotalInputAmount(),
		miningFee:     round.TotalInputAmount() - round.TotalOutputAmount(),
		startedAt:     round.StartingTimestamp,
		endedAt:       round.EndingTimestamp,
	}
}

type service struct {
	repoManager ports.RepoManager
	warden      ports.Warden
	issuers     ports.CredentialIssuerFactory
	verifier    ports.OwnershipVerifier
	builder     ports.TxBuilder
	broadcaster ports.TxBroadcaster
	txProvider  ports.TxProvider
	feeRates    ports.FeeRateProvider
	archiver    ports.TxArchiver
	scheduler   ports.SchedulerService
	liveStore   ports.LiveStore
	alerts      ports.Alerts
	clock       clock.Clock

	config       Config
	maxSuggested *domain.MaxSuggestedAmountProvider
	mempool      *mempoolManager
	pool         *workerpool.WorkerPool
	metrics      *arenaMetrics

	lock       *sync.RWMutex
	rounds     map[string]*roundHandle
	createLock *sync.Mutex
}

func NewService(
	config Config,
	repoManager ports.RepoManager,
	warden ports.Warden,
	issuers ports.CredentialIssuerFactory,
	verifier ports.OwnershipVerifier,
	builder ports.TxBuilder,
	observer ports.MempoolObserver,
	broadcaster ports.TxBroadcaster,
	txProvider ports.TxProvider,
	feeRates ports.FeeRateProvider,
	archiver ports.TxArchiver,
	scheduler ports.SchedulerService,
	liveStore ports.LiveStore,
	alerts ports.Alerts,
	clk clock.Clock,
) (Service, error) {
	if config.TickPeriod <= 0 {
		config.TickPeriod = defaultTickPeriod
	}
	if config.RoundRetention <= 0 {
		config.RoundRetention = defaultRoundRetention
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	params := config.roundParameters(0, config.MaxRegistrableAmount)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round config: %s", err)
	}

	maxSuggested, err := domain.NewMaxSuggestedAmountProvider(
		config.MaxRegistrableAmount, config.AmountDividers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create max suggested amount provider: %s", err)
	}
	maxSuggested.ResetMaxSuggested()

	pool := workerpool.New(config.MaxWorkers)

	return &service{
		repoManager:  repoManager,
		warden:       warden,
		issuers:      issuers,
		verifier:     verifier,
		builder:      builder,
		broadcaster:  broadcaster,
		txProvider:   txProvider,
		feeRates:     feeRates,
		archiver:     archiver,
		scheduler:    scheduler,
		liveStore:    liveStore,
		alerts:       alerts,
		clock:        clk,
		config:       config,
		maxSuggested: maxSuggested,
		mempool:      newMempoolManager(observer, pool),
		pool:         pool,
		metrics:      newArenaMetrics(),
		lock:         &sync.RWMutex{},
		rounds:       make(map[string]*roundHandle),
		createLock:   &sync.Mutex{},
	}, nil
}

func (s *service) Start() errors.Error {
	log.Debug("starting warden...")
	if err := s.warden.Start(); err != nil {
		return errors.INTERNAL_ERROR.New("failed to start warden: %s", err)
	}

	ctx := context.Background()
	if err := s.ensureInputRegistrationRound(ctx); err != nil {
		return errors.INTERNAL_ERROR.New("failed to open first round: %s", err)
	}

	if err := s.scheduler.ScheduleEvery(s.config.TickPeriod, s.tick); err != nil {
		return errors.INTERNAL_ERROR.New("failed to schedule arena tick: %s", err)
	}
	if err := s.scheduler.ScheduleEvery(mempoolCheckPeriod, func() {
		s.mempool.checkCoinjoins(context.Background(), s.clock.Now())
		log.Debugf("%d coinjoins propagated", len(s.mempool.propagatedCoinjoins()))
	}); err != nil {
		return errors.INTERNAL_ERROR.New("failed to schedule mempool check: %s", err)
	}
	s.scheduler.Start()

	log.Infof("arena started, ticking every %s", s.config.TickPeriod)
	return nil
}

func (s *service) Stop() {
	s.scheduler.Stop()
	log.Debug("scheduler stopped")

	s.pool.StopWait()
	log.Debug("worker pool drained")

	s.warden.Stop()
	log.Debug("warden stopped")

	s.repoManager.Close()
	log.Debug("closed connection to db")
}

func (s *service) RegisterInput(
	ctx context.Context, roundId string, outpoint domain.Outpoint, ownershipProof []byte,
	zeroAmountReq, zeroVsizeReq ports.CredentialRequest,
) (*InputRegistration, errors.Error) {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return nil, typedErr
	}

	var params domain.RoundParameters
	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(domain.PhaseInputRegistration); err != nil {
			typedErr = toTypedError(round, "", nil, err)
			return
		}
		params = round.Parameters
	})
	if typedErr != nil {
		return nil, typedErr
	}

	now := s.clock.Now()
	if offender, banned := s.warden.IsBanned(outpoint, now); banned {
		return nil, inputBanned(offender, s.warden.BanDurations())
	}

	coin, parent, typedErr := s.fetchCoin(ctx, outpoint)
	if typedErr != nil {
		return nil, typedErr
	}

	// Admission rules are checked before the proof so that a coin the round
	// cannot accept is rejected without being punished.
	h.read(func(round *domain.Round) {
		typedErr = toTypedError(round, "", coin, round.ValidateCoin(*coin))
	})
	if typedErr != nil {
		return nil, typedErr
	}

	isOwnCoinjoin := s.isOwnCoinjoin(ctx, outpoint.Txid)
	if !isOwnCoinjoin {
		if typedErr := s.checkInheritedBan(coin.Outpoint, parent, now); typedErr != nil {
			return nil, typedErr
		}
	}

	if err := s.verifier.VerifyOwnershipProof(
		*coin, roundId, params.CoordinatorIdentifier, ownershipProof,
	); err != nil {
		s.punish(domain.NewOffender(outpoint, now, domain.FailedToVerify{RoundId: roundId}))
		return nil, errors.INVALID_OWNERSHIP_PROOF.Wrap(err).
			WithMetadata(errors.OwnershipProofMetadata{
				RoundId:  roundId,
				Outpoint: outpoint.String(),
			})
	}

	inputVsize := s.builder.InputVsize(coin.PkScript)
	if inputVsize > params.MaxVsizeAllocationPerAlice {
		return nil, errors.TOO_MUCH_VSIZE.New(
			"input of type %s does not fit the vsize allocation", coin.ScriptType(),
		).WithMetadata(errors.VsizeMetadata{
			Vsize:    inputVsize,
			MaxVsize: params.MaxVsizeAllocationPerAlice,
		})
	}
	if effective := coin.Amount - params.MiningFee(inputVsize); effective <= 0 {
		return nil, errors.AMOUNT_TOO_LOW.New(
			"input %s does not cover its own mining fee", outpoint,
		).WithMetadata(errors.AmountTooLowMetadata{
			Amount:    coin.Amount,
			MinAmount: params.MiningFee(inputVsize) + 1,
		})
	}

	amountCreds, err := h.amountIssuer.IssueZeroCredentials(zeroAmountReq)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindAmount, err)
	}
	vsizeCreds, err := h.vsizeIssuer.IssueZeroCredentials(zeroVsizeReq)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindVsize, err)
	}

	alice := domain.NewAlice(
		*coin, ownershipProof, isOwnCoinjoin, now.Add(params.ConnectionTimeout),
	)
	reachedMax := false
	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		if err := round.RegisterInput(alice); err != nil {
			typedErr = toTypedError(round, alice.Id, coin, err)
			return nil
		}
		if len(round.Alices) < round.Parameters.MaxInputCount {
			return nil
		}
		reachedMax = true
		return round.StartConnectionConfirmation(now)
	}); err != nil {
		log.WithError(err).WithField("round", roundId).Warn(
			"failed to move round to connection confirmation",
		)
	}
	if typedErr != nil {
		return nil, typedErr
	}

	s.metrics.inputRegistered()
	log.WithField("round", roundId).Debugf("registered input %s", outpoint)

	if reachedMax {
		go func() {
			if err := s.ensureInputRegistrationRound(context.Background()); err != nil {
				log.WithError(err).Warn("failed to open new input registration round")
			}
		}()
	}

	return &InputRegistration{
		AliceId:     alice.Id,
		Credentials: Credentials{Amount: amountCreds, Vsize: vsizeCreds},
	}, nil
}

func (s *service) RemoveInput(ctx context.Context, roundId, aliceId string) errors.Error {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return typedErr
	}

	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		return round.RemoveAlice(aliceId)
	}); err != nil {
		var typedErr errors.Error
		h.read(func(round *domain.Round) {
			typedErr = toTypedError(round, aliceId, nil, err)
		})
		return typedErr
	}
	log.WithField("round", roundId).Debugf("alice %s withdrew", aliceId)
	return nil
}

// ConfirmConnection and the other credential gated calls do the credential
// cryptography outside the round lock. Under the lock only the phase and
// participant checks, the nullifier update and the round mutation happen.
func (s *service) ConfirmConnection(
	ctx context.Context, roundId, aliceId string, amountReq, vsizeReq ports.CredentialRequest,
) (*ConnectionConfirmation, errors.Error) {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return nil, typedErr
	}

	var (
		phase           domain.Phase
		effectiveAmount int64
		vsizeAllowance  int64
	)
	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(
			domain.PhaseInputRegistration, domain.PhaseConnectionConfirmation,
		); err != nil {
			typedErr = toTypedError(round, aliceId, nil, err)
			return
		}
		alice, ok := round.GetAlice(aliceId)
		if !ok {
			typedErr = toTypedError(round, aliceId, nil, domain.ErrAliceNotFound)
			return
		}
		if alice.ConnectionConfirmed {
			typedErr = toTypedError(round, aliceId, nil, domain.ErrAliceAlreadyConfirmed)
			return
		}

		phase = round.Phase
		inputVsize := s.builder.InputVsize(alice.Coin.PkScript)
		effectiveAmount = alice.Coin.Amount - round.Parameters.MiningFee(inputVsize)
		vsizeAllowance = round.Parameters.MaxVsizeAllocationPerAlice - inputVsize
	})
	if typedErr != nil {
		return nil, typedErr
	}

	now := s.clock.Now()
	if phase == domain.PhaseInputRegistration {
		credentials, violation := issueZeroCredentials(h, roundId, amountReq, vsizeReq)
		if violation != nil {
			return nil, violation
		}
		if _, err := s.update(ctx, h, func(round *domain.Round) error {
			if err := round.ExpectPhase(domain.PhaseInputRegistration); err != nil {
				typedErr = toTypedError(round, aliceId, nil, err)
				return nil
			}
			if err := round.RefreshAliceDeadline(
				aliceId, now.Add(round.Parameters.ConnectionTimeout),
			); err != nil {
				typedErr = toTypedError(round, aliceId, nil, err)
			}
			return nil
		}); err != nil {
			return nil, errors.INTERNAL_ERROR.Wrap(err)
		}
		if typedErr != nil {
			return nil, typedErr
		}
		return &ConnectionConfirmation{Credentials: *credentials}, nil
	}

	if err := h.amountIssuer.CheckValueCredentials(amountReq, effectiveAmount); err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindAmount, err)
	}
	if err := h.vsizeIssuer.CheckValueCredentials(vsizeReq, vsizeAllowance); err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindVsize, err)
	}

	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		if err := round.ValidateConfirmation(aliceId); err != nil {
			typedErr = toTypedError(round, aliceId, nil, err)
			return nil
		}
		if typedErr = consumeCredentials(
			h, roundId, amountReq.Presented, vsizeReq.Presented,
		); typedErr != nil {
			return nil
		}
		return round.ConfirmAlice(aliceId)
	}); err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	if typedErr != nil {
		return nil, typedErr
	}

	credentials, err := issueCredentials(h, amountReq, vsizeReq)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return &ConnectionConfirmation{Confirmed: true, Credentials: *credentials}, nil
}

func (s *service) RegisterOutput(
	ctx context.Context, roundId string, script []byte,
	amountCredentials, vsizeCredentials []ports.Credential,
) (*OutputRegistration, errors.Error) {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return nil, typedErr
	}

	var params domain.RoundParameters
	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(domain.PhaseOutputRegistration); err != nil {
			typedErr = toTypedError(round, "", nil, err)
			return
		}
		params = round.Parameters
	})
	if typedErr != nil {
		return nil, typedErr
	}

	presentedVsize, err := h.vsizeIssuer.CheckPresentedCredentials(vsizeCredentials)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindVsize, err)
	}
	presentedAmount, err := h.amountIssuer.CheckPresentedCredentials(amountCredentials)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindAmount, err)
	}

	outputVsize := s.builder.OutputVsize(script)
	if presentedVsize < outputVsize {
		return nil, errors.TOO_MUCH_VSIZE.New(
			"presented vsize credentials do not cover the output",
		).WithMetadata(errors.VsizeMetadata{Vsize: outputVsize, MaxVsize: presentedVsize})
	}

	amount := presentedAmount - params.MiningFee(outputVsize)
	if amount <= 0 || s.builder.IsDust(script, amount) {
		return nil, errors.AMOUNT_TOO_LOW.New("output of %d sats is dust", amount).
			WithMetadata(errors.AmountTooLowMetadata{
				Amount:    amount,
				MinAmount: params.OutputAmountRange.Min,
			})
	}

	bob := domain.Bob{Script: script, Amount: amount}
	output := &domain.Coin{Amount: amount, PkScript: script}
	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		// Credentials are spent only by an output the round accepts.
		if err := round.ValidateOutput(bob); err != nil {
			typedErr = toTypedError(round, "", output, err)
			return nil
		}
		if typedErr = consumeCredentials(
			h, roundId, amountCredentials, vsizeCredentials,
		); typedErr != nil {
			return nil
		}
		return round.RegisterOutput(bob)
	}); err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	if typedErr != nil {
		return nil, typedErr
	}

	return &OutputRegistration{Amount: amount}, nil
}

func (s *service) ReissueCredentials(
	_ context.Context, roundId string, amountReq, vsizeReq ports.CredentialRequest,
) (*Credentials, errors.Error) {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return nil, typedErr
	}

	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(
			domain.PhaseConnectionConfirmation, domain.PhaseOutputRegistration,
		); err != nil {
			typedErr = toTypedError(round, "", nil, err)
		}
	})
	if typedErr != nil {
		return nil, typedErr
	}

	if err := h.amountIssuer.CheckValueCredentials(amountReq, 0); err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindAmount, err)
	}
	if err := h.vsizeIssuer.CheckValueCredentials(vsizeReq, 0); err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindVsize, err)
	}
	if typedErr := consumeCredentials(
		h, roundId, amountReq.Presented, vsizeReq.Presented,
	); typedErr != nil {
		return nil, typedErr
	}

	credentials, err := issueCredentials(h, amountReq, vsizeReq)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return credentials, nil
}

func (s *service) SignalReadyToSign(ctx context.Context, roundId, aliceId string) errors.Error {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return typedErr
	}

	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		if err := round.SignalReadyToSign(aliceId); err != nil {
			typedErr = toTypedError(round, aliceId, nil, err)
		}
		return nil
	}); err != nil {
		return errors.INTERNAL_ERROR.Wrap(err)
	}
	return typedErr
}

func (s *service) SignTransaction(
	ctx context.Context, roundId, aliceId string, witness [][]byte,
) errors.Error {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return typedErr
	}

	var (
		unsignedTx string
		coins      []domain.Coin
		inputIndex int
		outpoint   domain.Outpoint
	)
	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(domain.PhaseTransactionSigning); err != nil {
			typedErr = toTypedError(round, aliceId, nil, err)
			return
		}
		alice, ok := round.GetAlice(aliceId)
		if !ok {
			typedErr = toTypedError(round, aliceId, nil, domain.ErrAliceNotFound)
			return
		}
		idx, err := s.builder.InputIndex(round.CoinjoinState.UnsignedTx, alice.Coin.Outpoint)
		if err != nil {
			typedErr = errors.INTERNAL_ERROR.Wrap(err)
			return
		}
		if round.HasWitness(idx) {
			typedErr = toTypedError(round, aliceId, nil, domain.ErrAliceAlreadySigned)
			return
		}

		unsignedTx = round.CoinjoinState.UnsignedTx
		coins = round.Coins()
		inputIndex = idx
		outpoint = alice.Coin.Outpoint
	})
	if typedErr != nil {
		return typedErr
	}

	if err := s.builder.VerifyWitness(unsignedTx, coins, inputIndex, witness); err != nil {
		s.punish(domain.NewOffender(outpoint, s.clock.Now(), domain.Cheating{RoundId: roundId}))
		return errors.INVALID_SIGNATURE.Wrap(err).WithMetadata(errors.SignatureMetadata{
			RoundId:    roundId,
			InputIndex: inputIndex,
		})
	}

	allSigned := false
	if _, err := s.update(ctx, h, func(round *domain.Round) error {
		if err := round.AddWitness(inputIndex, witness); err != nil {
			typedErr = toTypedError(round, aliceId, nil, err)
			return nil
		}
		allSigned = round.AllWitnessesCollected()
		return nil
	}); err != nil {
		return errors.INTERNAL_ERROR.Wrap(err)
	}
	if typedErr != nil {
		return typedErr
	}

	if allSigned {
		go s.processRound(context.Background(), h)
	}
	return nil
}

func (s *service) GetRoundState(
	ctx context.Context, roundId string,
) (*ports.RoundState, errors.Error) {
	if h, ok := s.getHandle(roundId); ok {
		var state ports.RoundState
		h.read(func(round *domain.Round) {
			state = ports.NewRoundState(round, s.clock.Now())
		})
		return &state, nil
	}

	state, err := s.liveStore.RoundStates().Get(ctx, roundId)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	if state == nil {
		return nil, roundNotFound(roundId)
	}
	return state, nil
}

func (s *service) GetStatus(_ context.Context) ([]ports.RoundState, errors.Error) {
	now := s.clock.Now()
	states := make([]ports.RoundState, 0)
	for _, h := range s.liveRounds() {
		h.read(func(round *domain.Round) {
			states = append(states, ports.NewRoundState(round, now))
		})
	}
	slices.SortFunc(states, func(a, b ports.RoundState) int {
		if a.Phase != b.Phase {
			return int(a.Phase) - int(b.Phase)
		}
		return strings.Compare(a.RoundId, b.RoundId)
	})
	return states, nil
}

func (s *service) GetUnsignedTransaction(
	_ context.Context, roundId string,
) (*UnsignedTransaction, errors.Error) {
	h, typedErr := s.getRound(roundId)
	if typedErr != nil {
		return nil, typedErr
	}

	var tx *UnsignedTransaction
	h.read(func(round *domain.Round) {
		if err := round.ExpectPhase(domain.PhaseTransactionSigning); err != nil {
			typedErr = toTypedError(round, "", nil, err)
			return
		}
		ptx, err := s.builder.BuildPsbt(round.CoinjoinState.UnsignedTx, round.Coins())
		if err != nil {
			typedErr = errors.INTERNAL_ERROR.Wrap(err)
			return
		}
		tx = &UnsignedTransaction{
			Txid:       round.CoinjoinState.Txid,
			UnsignedTx: round.CoinjoinState.UnsignedTx,
			Psbt:       ptx,
		}
	})
	if typedErr != nil {
		return nil, typedErr
	}
	return tx, nil
}

// update applies fn to the round and persists the raised events. It returns
// the round summary if fn ended the round.
func (s *service) update(
	ctx context.Context, h *roundHandle, fn func(round *domain.Round) error,
) (*roundSummary, error) {
	changes, err := h.apply(fn, s.clock.Now())
	s.persist(ctx, h, changes)
	return changes.summary, err
}

func (s *service) persist(ctx context.Context, h *roundHandle, changes roundChanges) {
	defer h.saveLock.Unlock()

	if len(changes.events) <= 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	roundId := changes.state.RoundId
	if err := s.repoManager.Events().Save(
		ctx, domain.RoundTopic, roundId, changes.events,
	); err != nil {
		log.WithError(err).WithField("round", roundId).Warn("failed to save round events")
	}
	if err := s.liveStore.RoundStates().Upsert(ctx, changes.state); err != nil {
		log.WithError(err).WithField("round", roundId).Warn("failed to update round state")
	}
}

func (s *service) getHandle(roundId string) (*roundHandle, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	h, ok := s.rounds[roundId]
	return h, ok
}

func (s *service) getRound(roundId string) (*roundHandle, errors.Error) {
	h, ok := s.getHandle(roundId)
	if !ok {
		return nil, roundNotFound(roundId)
	}
	return h, nil
}

func (s *service) liveRounds() []*roundHandle {
	s.lock.RLock()
	defer s.lock.RUnlock()

	handles := make([]*roundHandle, 0, len(s.rounds))
	for _, h := range s.rounds {
		handles = append(handles, h)
	}
	return handles
}

func (s *service) newRoundHandle(
	params domain.RoundParameters, now time.Time, blameOf string, whitelist []domain.Outpoint,
) (*roundHandle, error) {
	round, err := domain.NewRound(params, now, blameOf, whitelist)
	if err != nil {
		return nil, err
	}
	amountIssuer, err := s.issuers.NewIssuer(
		round.Id, ports.CredentialKindAmount, params.MaxRegistrableAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create amount issuer: %s", err)
	}
	vsizeIssuer, err := s.issuers.NewIssuer(
		round.Id, ports.CredentialKindVsize, params.MaxVsizeAllocationPerAlice,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsize issuer: %s", err)
	}

	return &roundHandle{
		lock:         &sync.Mutex{},
		saveLock:     &sync.Mutex{},
		processing:   &sync.Mutex{},
		round:        round,
		amountIssuer: amountIssuer,
		vsizeIssuer:  vsizeIssuer,
	}, nil
}

func (s *service) addRound(ctx context.Context, h *roundHandle) {
	s.lock.Lock()
	s.rounds[h.round.Id] = h
	s.lock.Unlock()

	isBlameRound := h.round.IsBlameRound()
	// Flushes the events raised at creation.
	_, _ = s.update(ctx, h, func(*domain.Round) error { return nil })
	s.metrics.roundStarted(isBlameRound)
}

// ensureInputRegistrationRound opens a new round unless one (not blame) is
// already registering inputs.
func (s *service) ensureInputRegistrationRound(ctx context.Context) error {
	s.createLock.Lock()
	defer s.createLock.Unlock()

	for _, h := range s.liveRounds() {
		open := false
		h.read(func(round *domain.Round) {
			open = !round.IsBlameRound() && round.Phase == domain.PhaseInputRegistration
		})
		if open {
			return nil
		}
	}

	feeRate, err := s.feeRates.GetFeeRate(ctx)
	if err != nil {
		return fmt.Errorf("failed to get fee rate: %s", err)
	}
	maxSuggested := max(s.maxSuggested.MaxSuggestedAmount(), s.config.MinRegistrableAmount)
	params := s.config.roundParameters(feeRate, maxSuggested)

	h, err := s.newRoundHandle(params, s.clock.Now(), "", nil)
	if err != nil {
		return err
	}
	s.addRound(ctx, h)

	log.WithField("round", h.round.Id).Infof(
		"opened round, fee rate %d sat/kvB, max suggested amount %d", feeRate, maxSuggested,
	)
	return nil
}

func issueZeroCredentials(
	h *roundHandle, roundId string, amountReq, vsizeReq ports.CredentialRequest,
) (*Credentials, errors.Error) {
	amountCreds, err := h.amountIssuer.IssueZeroCredentials(amountReq)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindAmount, err)
	}
	vsizeCreds, err := h.vsizeIssuer.IssueZeroCredentials(vsizeReq)
	if err != nil {
		return nil, credentialViolation(roundId, ports.CredentialKindVsize, err)
	}
	return &Credentials{Amount: amountCreds, Vsize: vsizeCreds}, nil
}

// consumeCredentials spends both presentations. The vsize set goes first as
// it is the cheaper one to lose if the amount set turns out to be spent.
func consumeCredentials(
	h *roundHandle, roundId string, amountCredentials, vsizeCredentials []ports.Credential,
) errors.Error {
	if err := h.vsizeIssuer.ConsumeCredentials(vsizeCredentials); err != nil {
		return credentialViolation(roundId, ports.CredentialKindVsize, err)
	}
	if err := h.amountIssuer.ConsumeCredentials(amountCredentials); err != nil {
		return credentialViolation(roundId, ports.CredentialKindAmount, err)
	}
	return nil
}

func issueCredentials(
	h *roundHandle, amountReq, vsizeReq ports.CredentialRequest,
) (*Credentials, error) {
	amountCreds, err := h.amountIssuer.IssueCredentials(amountReq)
	if err != nil {
		return nil, fmt.Errorf("failed to issue amount credentials: %s", err)
	}
	vsizeCreds, err := h.vsizeIssuer.IssueCredentials(vsizeReq)
	if err != nil {
		return nil, fmt.Errorf("failed to issue vsize credentials: %s", err)
	}
	return &Credentials{Amount: amountCreds, Vsize: vsizeCreds}, nil
}

func credentialViolation(roundId string, kind ports.CredentialKind, err error) errors.Error {
	return errors.CREDENTIAL_PROTOCOL_VIOLATION.Wrap(err).
		WithMetadata(errors.CredentialMetadata{RoundId: roundId, Kind: string(kind)})
}
