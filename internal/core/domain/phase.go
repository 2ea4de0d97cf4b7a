package domain

type Phase uint8

const (
	PhaseInputRegistration Phase = iota
	PhaseConnectionConfirmation
	PhaseOutputRegistration
	PhaseTransactionSigning
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseInputRegistration:
		return "InputRegistration"
	case PhaseConnectionConfirmation:
		return "ConnectionConfirmation"
	case PhaseOutputRegistration:
		return "OutputRegistration"
	case PhaseTransactionSigning:
		return "TransactionSigning"
	case PhaseEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// EndRoundState is set once a round reaches PhaseEnded.
type EndRoundState uint8

const (
	EndRoundStateNone EndRoundState = iota
	EndRoundStateSucceeded
	EndRoundStateNotEnoughParticipants
	EndRoundStateAbortedNotAllAlicesConfirmed
	EndRoundStateAbortedNotEnoughAlicesSigned
	EndRoundStateAbortedDoubleSpendingDetected
	EndRoundStateAbortedWithError
	EndRoundStateTransactionBroadcastFailed
)

func (s EndRoundState) String() string {
	return []string{
		"None",
		"Succeeded",
		"NotEnoughParticipants",
		"AbortedNotAllAlicesConfirmed",
		"AbortedNotEnoughAlicesSigned",
		"AbortedDoubleSpendingDetected",
		"AbortedWithError",
		"TransactionBroadcastFailed",
	}[s]
}

func (s EndRoundState) IsFailure() bool {
	return s != EndRoundStateNone && s != EndRoundStateSucceeded
}
