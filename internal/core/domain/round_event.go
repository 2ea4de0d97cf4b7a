package domain

import "time"

const RoundTopic = "round"

type EventType int

const (
	EventTypeUndefined EventType = iota
	EventTypeRoundStarted
	EventTypeInputRegistered
	EventTypeInputRemoved
	EventTypeAliceConfirmed
	EventTypeOutputRegistered
	EventTypeAliceReadyToSign
	EventTypePhaseChanged
	EventTypeTransactionAssembled
	EventTypeWitnessAdded
	EventTypeRoundEnded
)

type Event interface {
	GetTopic() string
	GetType() EventType
}

type RoundEvent struct {
	Id   string
	Type EventType
}

func (r RoundEvent) GetTopic() string   { return RoundTopic }
func (r RoundEvent) GetType() EventType { return r.Type }

type RoundStarted struct {
	RoundEvent
	Parameters     RoundParameters
	BlameOf        string
	BlameWhitelist []Outpoint
	PhaseDeadline  time.Time
	Timestamp      int64
}

type InputRegistered struct {
	RoundEvent
	Alice Alice
}

type InputRemoved struct {
	RoundEvent
	AliceId  string
	Outpoint Outpoint
	Reason   string
}

type AliceConfirmed struct {
	RoundEvent
	AliceId string
}

type OutputRegistered struct {
	RoundEvent
	Bob Bob
}

type AliceReadyToSign struct {
	RoundEvent
	AliceId string
}

type PhaseChanged struct {
	RoundEvent
	Phase         Phase
	PhaseDeadline time.Time
	Timestamp     int64
}

type TransactionAssembled struct {
	RoundEvent
	UnsignedTx string
	Txid       string
}

type WitnessAdded struct {
	RoundEvent
	InputIndex int
	Witness    [][]byte
}

type RoundEnded struct {
	RoundEvent
	EndRoundState EndRoundState
	Reason        string
	SignedTx      string
	Timestamp     int64
}
