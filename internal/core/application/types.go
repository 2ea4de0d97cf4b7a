package application

import (
	"context"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/pkg/errors"
)

type Service interface {
	Start() errors.Error
	Stop()
	RegisterInput(
		ctx context.Context, roundId string, outpoint domain.Outpoint, ownershipProof []byte,
		zeroAmountReq, zeroVsizeReq ports.CredentialRequest,
	) (*InputRegistration, errors.Error)
	RemoveInput(ctx context.Context, roundId, aliceId string) errors.Error
	// ConfirmConnection is a keep-alive during input registration and the
	// connection confirmation afterwards. Only the latter issues valued
	// credentials.
	ConfirmConnection(
		ctx context.Context, roundId, aliceId string,
		amountReq, vsizeReq ports.CredentialRequest,
	) (*ConnectionConfirmation, errors.Error)
	RegisterOutput(
		ctx context.Context, roundId string, script []byte,
		amountCredentials, vsizeCredentials []ports.Credential,
	) (*OutputRegistration, errors.Error)
	ReissueCredentials(
		ctx context.Context, roundId string, amountReq, vsizeReq ports.CredentialRequest,
	) (*Credentials, errors.Error)
	SignalReadyToSign(ctx context.Context, roundId, aliceId string) errors.Error
	SignTransaction(ctx context.Context, roundId, aliceId string, witness [][]byte) errors.Error
	GetRoundState(ctx context.Context, roundId string) (*ports.RoundState, errors.Error)
	GetStatus(ctx context.Context) ([]ports.RoundState, errors.Error)
	GetUnsignedTransaction(ctx context.Context, roundId string) (*UnsignedTransaction, errors.Error)
}

type AdminService interface {
	GetOffenders(ctx context.Context, outpoint *domain.Outpoint) ([]BannedInput, errors.Error)
	GetRoundHistory(ctx context.Context, roundId string) (*RoundHistory, errors.Error)
	GetRoundIds(ctx context.Context, after, before int64) ([]string, errors.Error)
	GetArchivedTx(ctx context.Context, txid string) (*ports.ArchivedTx, errors.Error)
}

type Credentials struct {
	Amount []ports.Credential
	Vsize  []ports.Credential
}

type InputRegistration struct {
	AliceId string
	Credentials
}

type ConnectionConfirmation struct {
	// Confirmed is false while the round is still registering inputs.
	Confirmed bool
	Credentials
}

type OutputRegistration struct {
	Amount int64
}

type UnsignedTransaction struct {
	Txid       string
	UnsignedTx string
	Psbt       string
}

type BannedInput struct {
	domain.Offender
	BannedUntil time.Time
	IsActive    bool
}

type RoundHistory struct {
	Id             string
	Phase          domain.Phase
	EndRoundState  domain.EndRoundState
	EndReason      string
	BlameOf        string
	StartedAt      int64
	EndedAt        int64
	InputCount     int
	OutputCount    int
	Txid           string
	MiningFeeRate  int64
	MaxSuggested   int64
	IsBlameRound   bool
	BlameWhitelist []domain.Outpoint
}

// Config holds what the arena needs to open rounds. Amounts are in sats,
// the fee rate bounds in sats per kvB.
type Config struct {
	Network               string
	CoordinatorIdentifier string

	MinRegistrableAmount int64
	MaxRegistrableAmount int64
	AmountDividers       []int64
	MinInputCount        int
	MaxInputCount        int
	InputAmountRange     domain.AmountRange
	OutputAmountRange    domain.AmountRange
	AllowedInputTypes    []domain.ScriptType
	AllowedOutputTypes   []domain.ScriptType

	MaxVsizeAllocationPerAlice int64
	MaxTransactionVsize        int64

	InputRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	TransactionSigningTimeout     time.Duration
	BlameInputRegistrationTimeout time.Duration
	ConnectionTimeout             time.Duration
	DelayTransactionSigning       bool

	TickPeriod     time.Duration
	RoundRetention time.Duration
	MaxWorkers     int
}

func (c Config) roundParameters(feeRate, maxSuggestedAmount int64) domain.RoundParameters {
	return domain.RoundParameters{
		Network:                       c.Network,
		CoordinatorIdentifier:         c.CoordinatorIdentifier,
		MiningFeeRate:                 feeRate,
		MinRegistrableAmount:          c.MinRegistrableAmount,
		MaxRegistrableAmount:          c.MaxRegistrableAmount,
		MaxSuggestedAmount:            maxSuggestedAmount,
		MinInputCount:                 c.MinInputCount,
		MaxInputCount:                 c.MaxInputCount,
		InputAmountRange:              c.InputAmountRange,
		OutputAmountRange:             c.OutputAmountRange,
		AllowedInputTypes:             c.AllowedInputTypes,
		AllowedOutputTypes:            c.AllowedOutputTypes,
		MaxVsizeAllocationPerAlice:    c.MaxVsizeAllocationPerAlice,
		MaxTransactionVsize:           c.MaxTransactionVsize,
		InputRegistrationTimeout:      c.InputRegistrationTimeout,
		ConnectionConfirmationTimeout: c.ConnectionConfirmationTimeout,
		OutputRegistrationTimeout:     c.OutputRegistrationTimeout,
		TransactionSigningTimeout:     c.TransactionSigningTimeout,
		BlameInputRegistrationTimeout: c.BlameInputRegistrationTimeout,
		ConnectionTimeout:             c.ConnectionTimeout,
		DelayTransactionSigning:       c.DelayTransactionSigning,
	}
}
