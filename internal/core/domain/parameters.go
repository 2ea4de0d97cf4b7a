package domain

import (
	"fmt"
	"slices"
	"time"
)

type AmountRange struct {
	Min int64
	Max int64
}

func (r AmountRange) Contains(amount int64) bool {
	return amount >= r.Min && amount <= r.Max
}

// RoundParameters is the immutable configuration snapshot of a round.
type RoundParameters struct {
	Network               string
	CoordinatorIdentifier string
	// MiningFeeRate is expressed in sats per kvB.
	MiningFeeRate        int64
	MinRegistrableAmount int64
	MaxRegistrableAmount int64
	MaxSuggestedAmount   int64
	MinInputCount        int
	MaxInputCount        int
	InputAmountRange     AmountRange
	OutputAmountRange    AmountRange
	AllowedInputTypes    []ScriptType
	AllowedOutputTypes   []ScriptType
	// MaxVsizeAllocationPerAlice caps the vsize credential issued to one input.
	MaxVsizeAllocationPerAlice int64
	// MaxTransactionVsize is the standardness limit for the coinjoin.
	MaxTransactionVsize int64

	InputRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	TransactionSigningTimeout     time.Duration
	BlameInputRegistrationTimeout time.Duration
	ConnectionTimeout             time.Duration

	DelayTransactionSigning bool
}

func (p RoundParameters) Validate() error {
	if p.MinInputCount <= 0 {
		return fmt.Errorf("min input count must be positive")
	}
	if p.MaxInputCount < p.MinInputCount {
		return fmt.Errorf("max input count must be >= min input count")
	}
	if p.MinRegistrableAmount <= 0 {
		return fmt.Errorf("min registrable amount must be positive")
	}
	if p.MaxRegistrableAmount < p.MinRegistrableAmount {
		return fmt.Errorf("max registrable amount must be >= min registrable amount")
	}
	if p.MaxSuggestedAmount < p.MinRegistrableAmount ||
		p.MaxSuggestedAmount > p.MaxRegistrableAmount {
		return fmt.Errorf(
			"max suggested amount %d out of range [%d, %d]",
			p.MaxSuggestedAmount, p.MinRegistrableAmount, p.MaxRegistrableAmount,
		)
	}
	if len(p.AllowedInputTypes) == 0 || len(p.AllowedOutputTypes) == 0 {
		return fmt.Errorf("allowed script types must not be empty")
	}
	if p.MaxVsizeAllocationPerAlice <= 0 {
		return fmt.Errorf("max vsize allocation per alice must be positive")
	}
	if p.InputRegistrationTimeout <= 0 || p.ConnectionConfirmationTimeout <= 0 ||
		p.OutputRegistrationTimeout <= 0 || p.TransactionSigningTimeout <= 0 ||
		p.BlameInputRegistrationTimeout <= 0 || p.ConnectionTimeout <= 0 {
		return fmt.Errorf("phase timeouts must be positive")
	}
	return nil
}

func (p RoundParameters) IsInputTypeAllowed(t ScriptType) bool {
	return slices.Contains(p.AllowedInputTypes, t)
}

func (p RoundParameters) IsOutputTypeAllowed(t ScriptType) bool {
	return slices.Contains(p.AllowedOutputTypes, t)
}

// PhaseTimeout returns how long the given phase lasts. Blame rounds use a
// dedicated input registration timeout.
func (p RoundParameters) PhaseTimeout(phase Phase, isBlameRound bool) time.Duration {
	switch phase {
	case PhaseInputRegistration:
		if isBlameRound {
			return p.BlameInputRegistrationTimeout
		}
		return p.InputRegistrationTimeout
	case PhaseConnectionConfirmation:
		return p.ConnectionConfirmationTimeout
	case PhaseOutputRegistration:
		return p.OutputRegistrationTimeout
	case PhaseTransactionSigning:
		return p.TransactionSigningTimeout
	default:
		return 0
	}
}

// MiningFee returns the fee owed for vsize vbytes at the round fee rate,
// rounded up to the next sat.
func (p RoundParameters) MiningFee(vsize int64) int64 {
	return (p.MiningFeeRate*vsize + 999) / 1000
}
