package handlers

import (
	"time"

	"github.com/arkade-os/cjd/internal/core/application"
	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
)

type registerInputRequest struct {
	Outpoint       string                  `json:"outpoint"`
	OwnershipProof string                  `json:"ownership_proof"`
	ZeroAmountReq  ports.CredentialRequest `json:"zero_amount_credential_request"`
	ZeroVsizeReq   ports.CredentialRequest `json:"zero_vsize_credential_request"`
}

type confirmConnectionRequest struct {
	AmountReq ports.CredentialRequest `json:"amount_credential_request"`
	VsizeReq  ports.CredentialRequest `json:"vsize_credential_request"`
}

type registerOutputRequest struct {
	Script            string             `json:"script"`
	AmountCredentials []ports.Credential `json:"amount_credentials"`
	VsizeCredentials  []ports.Credential `json:"vsize_credentials"`
}

type reissueCredentialsRequest struct {
	AmountReq ports.CredentialRequest `json:"amount_credential_request"`
	VsizeReq  ports.CredentialRequest `json:"vsize_credential_request"`
}

type signTransactionRequest struct {
	// Witness items are hex encoded.
	Witness []string `json:"witness"`
}

type credentials struct {
	Amount []ports.Credential `json:"amount_credentials"`
	Vsize  []ports.Credential `json:"vsize_credentials"`
}

func (c credentials) fromApp(creds application.Credentials) credentials {
	return credentials{Amount: creds.Amount, Vsize: creds.Vsize}
}

type registerInputResponse struct {
	AliceId string `json:"alice_id"`
	credentials
}

type confirmConnectionResponse struct {
	Confirmed bool `json:"confirmed"`
	credentials
}

type registerOutputResponse struct {
	Amount int64 `json:"amount"`
}

type emptyResponse struct{}

type roundParameters struct {
	Network                    string   `json:"network"`
	CoordinatorIdentifier      string   `json:"coordinator_identifier"`
	MiningFeeRate              int64    `json:"mining_fee_rate"`
	MinRegistrableAmount       int64    `json:"min_registrable_amount"`
	MaxRegistrableAmount       int64    `json:"max_registrable_amount"`
	MaxSuggestedAmount         int64    `json:"max_suggested_amount"`
	MinInputCount              int      `json:"min_input_count"`
	MaxInputCount              int      `json:"max_input_count"`
	AllowedInputTypes          []string `json:"allowed_input_types"`
	AllowedOutputTypes         []string `json:"allowed_output_types"`
	MaxVsizeAllocationPerAlice int64    `json:"max_vsize_allocation_per_alice"`
	ConnectionTimeout          int64    `json:"connection_timeout"`
}

func (p roundParameters) fromDomain(params domain.RoundParameters) roundParameters {
	return roundParameters{
		Network:                    params.Network,
		CoordinatorIdentifier:      params.CoordinatorIdentifier,
		MiningFeeRate:              params.MiningFeeRate,
		MinRegistrableAmount:       params.MinRegistrableAmount,
		MaxRegistrableAmount:       params.MaxRegistrableAmount,
		MaxSuggestedAmount:         params.MaxSuggestedAmount,
		MinInputCount:              params.MinInputCount,
		MaxInputCount:              params.MaxInputCount,
		AllowedInputTypes:          scriptTypes(params.AllowedInputTypes),
		AllowedOutputTypes:         scriptTypes(params.AllowedOutputTypes),
		MaxVsizeAllocationPerAlice: params.MaxVsizeAllocationPerAlice,
		ConnectionTimeout:          int64(params.ConnectionTimeout.Seconds()),
	}
}

type roundState struct {
	RoundId       string          `json:"round_id"`
	Phase         string          `json:"phase"`
	EndRoundState string          `json:"end_round_state"`
	PhaseEndTime  int64           `json:"phase_end_time"`
	BlameOf       string          `json:"blame_of,omitempty"`
	InputCount    int             `json:"input_count"`
	OutputCount   int             `json:"output_count"`
	Txid          string          `json:"txid,omitempty"`
	Parameters    roundParameters `json:"parameters"`
}

func (s roundState) fromPorts(state ports.RoundState) roundState {
	return roundState{
		RoundId:       state.RoundId,
		Phase:         state.Phase.String(),
		EndRoundState: state.EndRoundState.String(),
		PhaseEndTime:  state.PhaseEndTime.Unix(),
		BlameOf:       state.BlameOf,
		InputCount:    state.InputCount,
		OutputCount:   state.OutputCount,
		Txid:          state.Txid,
		Parameters:    roundParameters{}.fromDomain(state.Parameters),
	}
}

type getStatusResponse struct {
	Rounds []roundState `json:"rounds"`
}

type unsignedTransactionResponse struct {
	Txid       string `json:"txid"`
	UnsignedTx string `json:"unsigned_tx"`
	Psbt       string `json:"psbt"`
}

type bannedInput struct {
	Offender    domain.Offender `json:"offender"`
	BannedUntil int64           `json:"banned_until"`
	IsActive    bool            `json:"is_active"`
}

type getOffendersResponse struct {
	Offenders []bannedInput `json:"offenders"`
}

type roundHistoryResponse struct {
	Id             string   `json:"id"`
	Phase          string   `json:"phase"`
	EndRoundState  string   `json:"end_round_state"`
	EndReason      string   `json:"end_reason,omitempty"`
	BlameOf        string   `json:"blame_of,omitempty"`
	StartedAt      int64    `json:"started_at"`
	EndedAt        int64    `json:"ended_at"`
	InputCount     int      `json:"input_count"`
	OutputCount    int      `json:"output_count"`
	Txid           string   `json:"txid,omitempty"`
	MiningFeeRate  int64    `json:"mining_fee_rate"`
	MaxSuggested   int64    `json:"max_suggested_amount"`
	IsBlameRound   bool     `json:"is_blame_round"`
	BlameWhitelist []string `json:"blame_whitelist,omitempty"`
}

func (r roundHistoryResponse) fromApp(h application.RoundHistory) roundHistoryResponse {
	whitelist := make([]string, 0, len(h.BlameWhitelist))
	for _, outpoint := range h.BlameWhitelist {
		whitelist = append(whitelist, outpoint.String())
	}
	return roundHistoryResponse{
		Id:             h.Id,
		Phase:          h.Phase.String(),
		EndRoundState:  h.EndRoundState.String(),
		EndReason:      h.EndReason,
		BlameOf:        h.BlameOf,
		StartedAt:      h.StartedAt,
		EndedAt:        h.EndedAt,
		InputCount:     h.InputCount,
		OutputCount:    h.OutputCount,
		Txid:           h.Txid,
		MiningFeeRate:  h.MiningFeeRate,
		MaxSuggested:   h.MaxSuggested,
		IsBlameRound:   h.IsBlameRound,
		BlameWhitelist: whitelist,
	}
}

type getRoundIdsResponse struct {
	RoundIds []string `json:"round_ids"`
}

type archivedTxResponse struct {
	Txid      string `json:"txid"`
	RawTx     string `json:"raw_tx"`
	CreatedAt int64  `json:"created_at"`
}

func scriptTypes(types []domain.ScriptType) []string {
	list := make([]string, 0, len(types))
	for _, t := range types {
		list = append(list, string(t))
	}
	return list
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
