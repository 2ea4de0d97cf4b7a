package application

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	arkerrors "github.com/arkade-os/cjd/pkg/errors"
)

// toTypedError converts errors returned by the round aggregate into the
// codes clients understand. Anything unexpected is an internal error.
func toTypedError(round *domain.Round, aliceId string, coin *domain.Coin, err error) arkerrors.Error {
	if err == nil {
		return nil
	}

	var wrongPhase *domain.WrongPhaseError
	if errors.As(err, &wrongPhase) {
		return wrongPhaseError(wrongPhase)
	}

	outpoint := ""
	amount := int64(0)
	if coin != nil {
		outpoint = coin.Outpoint.String()
		amount = coin.Amount
	}
	roundId := ""
	if round != nil {
		roundId = round.Id
	}

	switch {
	case errors.Is(err, domain.ErrAliceNotFound):
		return arkerrors.ALICE_NOT_FOUND.Wrap(err).
			WithMetadata(arkerrors.AliceMetadata{RoundId: roundId, AliceId: aliceId})
	case errors.Is(err, domain.ErrAliceAlreadyConfirmed):
		return arkerrors.ALICE_ALREADY_CONFIRMED.Wrap(err).
			WithMetadata(arkerrors.AliceMetadata{RoundId: roundId, AliceId: aliceId})
	case errors.Is(err, domain.ErrAliceAlreadySigned):
		return arkerrors.ALICE_ALREADY_SIGNED.Wrap(err).
			WithMetadata(arkerrors.AliceMetadata{RoundId: roundId, AliceId: aliceId})
	case errors.Is(err, domain.ErrInputAlreadyRegistered):
		return arkerrors.INPUT_ALREADY_REGISTERED.Wrap(err).
			WithMetadata(arkerrors.InputMetadata{Outpoint: outpoint})
	case errors.Is(err, domain.ErrInputNotWhitelisted):
		return arkerrors.INPUT_NOT_WHITELISTED.Wrap(err).
			WithMetadata(arkerrors.InputMetadata{Outpoint: outpoint})
	case errors.Is(err, domain.ErrTooManyInputs):
		maxCount := 0
		count := 0
		if round != nil {
			maxCount = round.Parameters.MaxInputCount
			count = len(round.Alices)
		}
		return arkerrors.TOO_MANY_INPUTS.Wrap(err).
			WithMetadata(arkerrors.InputCountMetadata{Count: count, MaxCount: maxCount})
	case errors.Is(err, domain.ErrAmountTooLow):
		minAmount := int64(0)
		if round != nil {
			minAmount = max(
				round.Parameters.MinRegistrableAmount, round.Parameters.InputAmountRange.Min,
			)
		}
		return arkerrors.AMOUNT_TOO_LOW.Wrap(err).
			WithMetadata(arkerrors.AmountTooLowMetadata{Amount: amount, MinAmount: minAmount})
	case errors.Is(err, domain.ErrAmountTooHigh):
		maxAmount := int64(0)
		if round != nil {
			maxAmount = round.MaxAdmissibleAmount()
		}
		return arkerrors.AMOUNT_TOO_HIGH.Wrap(err).
			WithMetadata(arkerrors.AmountTooHighMetadata{Amount: amount, MaxAmount: maxAmount})
	case errors.Is(err, domain.ErrTotalAmountTooHigh):
		maxAmount := int64(0)
		if round != nil {
			maxAmount = round.Parameters.MaxRegistrableAmount - round.TotalInputAmount()
		}
		return arkerrors.AMOUNT_TOO_HIGH.Wrap(err).
			WithMetadata(arkerrors.AmountTooHighMetadata{Amount: amount, MaxAmount: maxAmount})
	case errors.Is(err, domain.ErrScriptNotAllowed):
		meta := arkerrors.ScriptMetadata{}
		if coin != nil {
			meta.Script = hex.EncodeToString(coin.PkScript)
			meta.ScriptType = string(coin.ScriptType())
		}
		return arkerrors.SCRIPT_NOT_ALLOWED.Wrap(err).WithMetadata(meta)
	case errors.Is(err, domain.ErrRoundEnded):
		return arkerrors.WRONG_PHASE.Wrap(err).WithMetadata(arkerrors.WrongPhaseMetadata{
			RoundId:      roundId,
			CurrentPhase: domain.PhaseEnded.String(),
		})
	default:
		return arkerrors.INTERNAL_ERROR.Wrap(err)
	}
}

func wrongPhaseError(err *domain.WrongPhaseError) arkerrors.Error {
	expected := make([]string, 0, len(err.Expected))
	for _, p := range err.Expected {
		expected = append(expected, p.String())
	}
	return arkerrors.WRONG_PHASE.Wrap(err).WithMetadata(arkerrors.WrongPhaseMetadata{
		RoundId:        err.RoundId,
		CurrentPhase:   err.Current.String(),
		ExpectedPhases: expected,
		PhaseEndTime:   err.PhaseEndTime.Unix(),
	})
}

func roundNotFound(roundId string) arkerrors.Error {
	return arkerrors.ROUND_NOT_FOUND.New("round %s not found", roundId).
		WithMetadata(arkerrors.RoundMetadata{RoundId: roundId})
}

func inputBanned(offender *domain.Offender, durations domain.BanDurations) arkerrors.Error {
	return arkerrors.INPUT_BANNED.New("input %s is banned", offender.Outpoint).
		WithMetadata(arkerrors.InputBannedMetadata{
			Outpoint:    offender.Outpoint.String(),
			BannedUntil: offender.BannedUntil(durations).Unix(),
			Reason:      offender.Reason.String(),
		})
}

func formatDuration(from, to int64) string {
	if from <= 0 || to <= 0 {
		return "N/A"
	}
	return time.Unix(to, 0).Sub(time.Unix(from, 0)).String()
}
