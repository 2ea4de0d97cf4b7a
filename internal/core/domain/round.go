package domain

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var roundIdTag = []byte("CJ-RoundId")

var (
	ErrAliceNotFound          = errors.New("alice not found")
	ErrInputAlreadyRegistered = errors.New("input already registered")
	ErrInputNotWhitelisted    = errors.New("input not whitelisted for blame round")
	ErrTooManyInputs          = errors.New("max input count reached")
	ErrAmountTooLow           = errors.New("amount below min registrable amount")
	ErrAmountTooHigh          = errors.New("amount above max suggested amount")
	ErrTotalAmountTooHigh     = errors.New("total amount above max registrable amount")
	ErrScriptNotAllowed       = errors.New("script type not allowed")
	ErrAliceAlreadyConfirmed  = errors.New("alice already confirmed")
	ErrAliceAlreadySigned     = errors.New("alice already signed")
	ErrRoundEnded             = errors.New("round already ended")
)

// WrongPhaseError is returned by any call made outside of the phases that
// accept it.
type WrongPhaseError struct {
	RoundId      string
	Current      Phase
	Expected     []Phase
	PhaseEndTime time.Time
}

func (e *WrongPhaseError) Error() string {
	expected := make([]string, 0, len(e.Expected))
	for _, p := range e.Expected {
		expected = append(expected, p.String())
	}
	return fmt.Sprintf(
		"round %s is in phase %s, expected one of %v", e.RoundId, e.Current, expected,
	)
}

type Round struct {
	Id                string
	Parameters        RoundParameters
	Phase             Phase
	EndRoundState     EndRoundState
	EndReason         string
	StartingTimestamp int64
	EndingTimestamp   int64
	PhaseDeadline     time.Time
	Alices            []Alice
	Bobs              []Bob
	BlameOf           string
	BlameWhitelist    []Outpoint
	CoinjoinState     CoinjoinState
	Version           uint64
	changes           []Event
}

func NewRound(
	params RoundParameters, now time.Time, blameOf string, blameWhitelist []Outpoint,
) (*Round, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round parameters: %s", err)
	}
	id, err := newRoundId(params.CoordinatorIdentifier, now)
	if err != nil {
		return nil, err
	}

	r := &Round{}
	event := RoundStarted{
		RoundEvent:     RoundEvent{Id: id, Type: EventTypeRoundStarted},
		Parameters:     params,
		BlameOf:        blameOf,
		BlameWhitelist: slices.Clone(blameWhitelist),
		PhaseDeadline:  now.Add(params.PhaseTimeout(PhaseInputRegistration, blameOf != "")),
		Timestamp:      now.Unix(),
	}
	r.raise(event)
	return r, nil
}

func NewRoundFromEvents(events []Event) *Round {
	r := &Round{}
	for _, event := range events {
		r.on(event)
	}
	r.changes = append([]Event{}, events...)
	return r
}

func newRoundId(coordinatorIdentifier string, now time.Time) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate round nonce: %s", err)
	}
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(now.UnixNano()))

	hash := chainhash.TaggedHash(roundIdTag, nonce, []byte(coordinatorIdentifier), ts)
	return hex.EncodeToString(hash[:]), nil
}

func (r *Round) Events() []Event {
	return r.changes
}

func (r *Round) ClearEvents() {
	r.changes = make([]Event, 0)
}

func (r *Round) IsBlameRound() bool {
	return r.BlameOf != ""
}

func (r *Round) IsEnded() bool {
	return r.Phase == PhaseEnded
}

func (r *Round) IsPhaseExpired(now time.Time) bool {
	return !now.Before(r.PhaseDeadline)
}

// ExpectPhase fails with a *WrongPhaseError unless the round is in one of
// the given phases.
func (r *Round) ExpectPhase(phases ...Phase) error {
	if slices.Contains(phases, r.Phase) {
		return nil
	}
	return &WrongPhaseError{
		RoundId:      r.Id,
		Current:      r.Phase,
		Expected:     phases,
		PhaseEndTime: r.PhaseDeadline,
	}
}

func (r *Round) GetAlice(id string) (*Alice, bool) {
	for i := range r.Alices {
		if r.Alices[i].Id == id {
			return &r.Alices[i], true
		}
	}
	return nil, false
}

func (r *Round) ContainsInput(outpoint Outpoint) bool {
	return slices.ContainsFunc(r.Alices, func(a Alice) bool {
		return a.Coin.Outpoint == outpoint
	})
}

func (r *Round) IsWhitelisted(outpoint Outpoint) bool {
	if !r.IsBlameRound() {
		return true
	}
	return slices.Contains(r.BlameWhitelist, outpoint)
}

func (r *Round) TotalInputAmount() int64 {
	total := int64(0)
	for _, a := range r.Alices {
		total += a.Coin.Amount
	}
	return total
}

func (r *Round) TotalOutputAmount() int64 {
	total := int64(0)
	for _, b := range r.Bobs {
		total += b.Amount
	}
	return total
}

func (r *Round) Coins() []Coin {
	coins := make([]Coin, 0, len(r.Alices))
	for _, a := range r.Alices {
		coins = append(coins, a.Coin)
	}
	return coins
}

// ValidateCoin checks a coin against the round admission rules without
// mutating the round.
func (r *Round) ValidateCoin(coin Coin) error {
	if err := r.ExpectPhase(PhaseInputRegistration); err != nil {
		return err
	}
	if r.ContainsInput(coin.Outpoint) {
		return fmt.Errorf("%w: %s", ErrInputAlreadyRegistered, coin.Outpoint)
	}
	if !r.IsWhitelisted(coin.Outpoint) {
		return fmt.Errorf("%w: %s", ErrInputNotWhitelisted, coin.Outpoint)
	}
	if len(r.Alices) >= r.Parameters.MaxInputCount {
		return fmt.Errorf("%w: %d", ErrTooManyInputs, r.Parameters.MaxInputCount)
	}
	if !r.Parameters.IsInputTypeAllowed(coin.ScriptType()) {
		return fmt.Errorf("%w: %s", ErrScriptNotAllowed, coin.ScriptType())
	}
	minAmount := max(r.Parameters.MinRegistrableAmount, r.Parameters.InputAmountRange.Min)
	if coin.Amount < minAmount {
		return fmt.Errorf("%w: %d < %d", ErrAmountTooLow, coin.Amount, minAmount)
	}
	maxAmount := r.MaxAdmissibleAmount()
	if coin.Amount > maxAmount {
		return fmt.Errorf("%w: %d > %d", ErrAmountTooHigh, coin.Amount, maxAmount)
	}
	if total := r.TotalInputAmount() + coin.Amount; total > r.Parameters.MaxRegistrableAmount {
		return fmt.Errorf(
			"%w: %d > %d", ErrTotalAmountTooHigh, total, r.Parameters.MaxRegistrableAmount,
		)
	}
	return nil
}

// MaxAdmissibleAmount is the largest single coin the round accepts, bounded
// by the max suggested amount snapshot taken at creation.
func (r *Round) MaxAdmissibleAmount() int64 {
	maxAmount := r.Parameters.MaxSuggestedAmount
	if r.Parameters.InputAmountRange.Max > 0 {
		maxAmount = min(maxAmount, r.Parameters.InputAmountRange.Max)
	}
	return maxAmount
}

func (r *Round) RegisterInput(alice Alice) error {
	if err := r.ValidateCoin(alice.Coin); err != nil {
		return err
	}

	r.raise(InputRegistered{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeInputRegistered},
		Alice:      alice,
	})
	return nil
}

// RefreshAliceDeadline extends the keep-alive of an input during input
// registration.
func (r *Round) RefreshAliceDeadline(aliceId string, deadline time.Time) error {
	alice, ok := r.GetAlice(aliceId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAliceNotFound, aliceId)
	}
	alice.Deadline = deadline
	r.Version++
	return nil
}

// RemoveAlice is the voluntary withdrawal of an input, only possible while
// inputs are still being registered.
func (r *Round) RemoveAlice(aliceId string) error {
	if err := r.ExpectPhase(PhaseInputRegistration); err != nil {
		return err
	}
	if _, ok := r.GetAlice(aliceId); !ok {
		return fmt.Errorf("%w: %s", ErrAliceNotFound, aliceId)
	}
	r.EvictAlices([]string{aliceId}, "withdrawn")
	return nil
}

// EvictAlices drops the given inputs regardless of phase.
func (r *Round) EvictAlices(aliceIds []string, reason string) {
	for _, id := range aliceIds {
		alice, ok := r.GetAlice(id)
		if !ok {
			continue
		}
		r.raise(InputRemoved{
			RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeInputRemoved},
			AliceId:    id,
			Outpoint:   alice.Coin.Outpoint,
			Reason:     reason,
		})
	}
}

// ValidateConfirmation checks that the alice can confirm her connection
// without mutating the round.
func (r *Round) ValidateConfirmation(aliceId string) error {
	if err := r.ExpectPhase(PhaseConnectionConfirmation); err != nil {
		return err
	}
	alice, ok := r.GetAlice(aliceId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAliceNotFound, aliceId)
	}
	if alice.ConnectionConfirmed {
		return fmt.Errorf("%w: %s", ErrAliceAlreadyConfirmed, aliceId)
	}
	return nil
}

func (r *Round) ConfirmAlice(aliceId string) error {
	if err := r.ValidateConfirmation(aliceId); err != nil {
		return err
	}

	r.raise(AliceConfirmed{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeAliceConfirmed},
		AliceId:    aliceId,
	})
	return nil
}

func (r *Round) AllAlicesConfirmed() bool {
	for _, a := range r.Alices {
		if !a.ConnectionConfirmed {
			return false
		}
	}
	return len(r.Alices) > 0
}

func (r *Round) UnconfirmedAlices() []Alice {
	unconfirmed := make([]Alice, 0)
	for _, a := range r.Alices {
		if !a.ConnectionConfirmed {
			unconfirmed = append(unconfirmed, a)
		}
	}
	return unconfirmed
}

func (r *Round) RegisterOutput(bob Bob) error {
	if err := r.ValidateOutput(bob); err != nil {
		return err
	}

	r.raise(OutputRegistered{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeOutputRegistered},
		Bob:        bob,
	})
	return nil
}

// ValidateOutput checks an output against the round rules without mutating
// the round.
func (r *Round) ValidateOutput(bob Bob) error {
	if err := r.ExpectPhase(PhaseOutputRegistration); err != nil {
		return err
	}
	if !r.Parameters.IsOutputTypeAllowed(bob.ScriptType()) {
		return fmt.Errorf("%w: %s", ErrScriptNotAllowed, bob.ScriptType())
	}
	if !r.Parameters.OutputAmountRange.Contains(bob.Amount) {
		if bob.Amount < r.Parameters.OutputAmountRange.Min {
			return fmt.Errorf(
				"%w: %d < %d", ErrAmountTooLow, bob.Amount, r.Parameters.OutputAmountRange.Min,
			)
		}
		return fmt.Errorf(
			"%w: %d > %d", ErrAmountTooHigh, bob.Amount, r.Parameters.OutputAmountRange.Max,
		)
	}
	return nil
}

func (r *Round) SignalReadyToSign(aliceId string) error {
	if err := r.ExpectPhase(PhaseOutputRegistration, PhaseTransactionSigning); err != nil {
		return err
	}
	alice, ok := r.GetAlice(aliceId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAliceNotFound, aliceId)
	}
	if alice.ReadyToSign {
		return nil
	}

	r.raise(AliceReadyToSign{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeAliceReadyToSign},
		AliceId:    aliceId,
	})
	return nil
}

func (r *Round) AllAlicesReadyToSign() bool {
	for _, a := range r.Alices {
		if !a.ReadyToSign {
			return false
		}
	}
	return len(r.Alices) > 0
}

func (r *Round) StartConnectionConfirmation(now time.Time) error {
	return r.changePhase(PhaseConnectionConfirmation, now)
}

func (r *Round) StartOutputRegistration(now time.Time) error {
	return r.changePhase(PhaseOutputRegistration, now)
}

// StartTransactionSigning freezes the transaction to be signed.
func (r *Round) StartTransactionSigning(now time.Time, unsignedTx, txid string) error {
	if err := r.changePhase(PhaseTransactionSigning, now); err != nil {
		return err
	}
	r.raise(TransactionAssembled{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeTransactionAssembled},
		UnsignedTx: unsignedTx,
		Txid:       txid,
	})
	return nil
}

func (r *Round) AddWitness(inputIndex int, witness [][]byte) error {
	if err := r.ExpectPhase(PhaseTransactionSigning); err != nil {
		return err
	}
	if _, ok := r.CoinjoinState.Witnesses[inputIndex]; ok {
		return fmt.Errorf("%w: input %d", ErrAliceAlreadySigned, inputIndex)
	}

	r.raise(WitnessAdded{
		RoundEvent: RoundEvent{Id: r.Id, Type: EventTypeWitnessAdded},
		InputIndex: inputIndex,
		Witness:    witness,
	})
	return nil
}

func (r *Round) HasWitness(inputIndex int) bool {
	_, ok := r.CoinjoinState.Witnesses[inputIndex]
	return ok
}

func (r *Round) AllWitnessesCollected() bool {
	return len(r.Alices) > 0 && len(r.CoinjoinState.Witnesses) == len(r.Alices)
}

// End moves the round to its terminal phase. Ending twice is a no-op.
func (r *Round) End(state EndRoundState, reason string, signedTx string, now time.Time) {
	if r.IsEnded() {
		return
	}
	r.raise(RoundEnded{
		RoundEvent:    RoundEvent{Id: r.Id, Type: EventTypeRoundEnded},
		EndRoundState: state,
		Reason:        reason,
		SignedTx:      signedTx,
		Timestamp:     now.Unix(),
	})
}

func (r *Round) changePhase(next Phase, now time.Time) error {
	if r.IsEnded() {
		return ErrRoundEnded
	}
	if next <= r.Phase {
		return fmt.Errorf("cannot move round %s from %s back to %s", r.Id, r.Phase, next)
	}

	r.raise(PhaseChanged{
		RoundEvent:    RoundEvent{Id: r.Id, Type: EventTypePhaseChanged},
		Phase:         next,
		PhaseDeadline: now.Add(r.Parameters.PhaseTimeout(next, r.IsBlameRound())),
		Timestamp:     now.Unix(),
	})
	return nil
}

func (r *Round) on(event Event) {
	switch e := event.(type) {
	case RoundStarted:
		r.Id = e.Id
		r.Parameters = e.Parameters
		r.Phase = PhaseInputRegistration
		r.BlameOf = e.BlameOf
		r.BlameWhitelist = e.BlameWhitelist
		r.PhaseDeadline = e.PhaseDeadline
		r.StartingTimestamp = e.Timestamp
		r.Alices = make([]Alice, 0)
		r.Bobs = make([]Bob, 0)
		r.CoinjoinState = CoinjoinState{Witnesses: make(map[int][][]byte)}
	case InputRegistered:
		r.Alices = append(r.Alices, e.Alice)
	case InputRemoved:
		r.Alices = slices.DeleteFunc(r.Alices, func(a Alice) bool {
			return a.Id == e.AliceId
		})
	case AliceConfirmed:
		if alice, ok := r.GetAlice(e.AliceId); ok {
			alice.ConnectionConfirmed = true
		}
	case OutputRegistered:
		r.Bobs = append(r.Bobs, e.Bob)
	case AliceReadyToSign:
		if alice, ok := r.GetAlice(e.AliceId); ok {
			alice.ReadyToSign = true
		}
	case PhaseChanged:
		r.Phase = e.Phase
		r.PhaseDeadline = e.PhaseDeadline
	case TransactionAssembled:
		r.CoinjoinState.UnsignedTx = e.UnsignedTx
		r.CoinjoinState.Txid = e.Txid
	case WitnessAdded:
		if r.CoinjoinState.Witnesses == nil {
			r.CoinjoinState.Witnesses = make(map[int][][]byte)
		}
		r.CoinjoinState.Witnesses[e.InputIndex] = e.Witness
	case RoundEnded:
		r.Phase = PhaseEnded
		r.EndRoundState = e.EndRoundState
		r.EndReason = e.Reason
		r.CoinjoinState.SignedTx = e.SignedTx
		r.EndingTimestamp = e.Timestamp
	}

	r.Version++
}

func (r *Round) raise(event Event) {
	if r.changes == nil {
		r.changes = make([]Event, 0)
	}
	r.changes = append(r.changes, event)
	r.on(event)
}
