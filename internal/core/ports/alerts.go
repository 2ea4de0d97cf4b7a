package ports

import "context"

const (
	RoundSucceeded Topic = "Round Succeeded"
	RoundFailed    Topic = "Round Failed"
	InputBanned    Topic = "Input Banned"

	LedgerWriteFailed Topic = "Ledger Write Failed"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}

type RoundSucceededAlert struct {
	RoundId      string `json:"round_id"`
	Txid         string `json:"txid"`
	IsBlameRound bool   `json:"is_blame_round"`
	InputCount   int    `json:"input_count"`
	OutputCount  int    `json:"output_count"`
	TotalAmount  int64  `json:"total_amount"`
	MiningFee    int64  `json:"mining_fee"`
	Duration     string `json:"duration"`
}

type RoundFailedAlert struct {
	RoundId       string `json:"round_id"`
	EndRoundState string `json:"end_round_state"`
	Reason        string `json:"reason"`
	Phase         string `json:"phase"`
	InputCount    int    `json:"input_count"`
	BlameRoundId  string `json:"blame_round_id,omitempty"`
}

type InputBannedAlert struct {
	Outpoint    string `json:"outpoint"`
	Reason      string `json:"reason"`
	BannedUntil string `json:"banned_until"`
}

type LedgerWriteFailedAlert struct {
	OffenderId string `json:"offender_id"`
	Outpoint   string `json:"outpoint"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
}
