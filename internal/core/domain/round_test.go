package domain_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	now        = time.Unix(1_700_000_000, 0)
	p2wpkh     = append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0x01}, 20)...)
	p2tr       = append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0x02}, 32)...)
	testParams = domain.RoundParameters{
		Network:                       "regtest",
		CoordinatorIdentifier:         "CoinJoinCoordinatorIdentifier",
		MiningFeeRate:                 2000,
		MinRegistrableAmount:          5000,
		MaxRegistrableAmount:          1_000_000,
		MaxSuggestedAmount:            100_000,
		MinInputCount:                 2,
		MaxInputCount:                 3,
		InputAmountRange:              domain.AmountRange{Min: 5000, Max: 1_000_000},
		OutputAmountRange:             domain.AmountRange{Min: 5000, Max: 1_000_000},
		AllowedInputTypes:             []domain.ScriptType{domain.ScriptTypeP2WPKH},
		AllowedOutputTypes:            []domain.ScriptType{domain.ScriptTypeP2WPKH, domain.ScriptTypeP2TR},
		MaxVsizeAllocationPerAlice:    255,
		MaxTransactionVsize:           100_000,
		InputRegistrationTimeout:      time.Minute,
		ConnectionConfirmationTimeout: time.Minute,
		OutputRegistrationTimeout:     time.Minute,
		TransactionSigningTimeout:     time.Minute,
		BlameInputRegistrationTimeout: 30 * time.Second,
		ConnectionTimeout:             20 * time.Second,
	}
)

func coin(i int, amount int64) domain.Coin {
	return domain.Coin{
		Outpoint: domain.Outpoint{Txid: fmt.Sprintf("%064x", i), VOut: uint32(i)},
		Amount:   amount,
		PkScript: p2wpkh,
	}
}

func TestRegisterInput(t *testing.T) {
	testCases := []struct {
		description string
		setup       func(r *domain.Round)
		coin        domain.Coin
		expectedErr error
	}{
		{
			description: "valid coin",
			coin:        coin(1, 50_000),
		},
		{
			description: "duplicate input",
			setup: func(r *domain.Round) {
				require.NoError(t, r.RegisterInput(domain.NewAlice(coin(1, 50_000), nil, false, now)))
			},
			coin:        coin(1, 50_000),
			expectedErr: domain.ErrInputAlreadyRegistered,
		},
		{
			description: "amount below min registrable",
			coin:        coin(1, 4999),
			expectedErr: domain.ErrAmountTooLow,
		},
		{
			description: "amount above max suggested snapshot",
			coin:        coin(1, 100_001),
			expectedErr: domain.ErrAmountTooHigh,
		},
		{
			description: "script type not allowed",
			coin: domain.Coin{
				Outpoint: domain.Outpoint{Txid: fmt.Sprintf("%064x", 9), VOut: 0},
				Amount:   50_000,
				PkScript: p2tr,
			},
			expectedErr: domain.ErrScriptNotAllowed,
		},
		{
			description: "max input count reached",
			setup: func(r *domain.Round) {
				for i := 10; i < 13; i++ {
					require.NoError(
						t, r.RegisterInput(domain.NewAlice(coin(i, 50_000), nil, false, now)),
					)
				}
			},
			coin:        coin(1, 50_000),
			expectedErr: domain.ErrTooManyInputs,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			round, err := domain.NewRound(testParams, now, "", nil)
			require.NoError(t, err)
			if tc.setup != nil {
				tc.setup(round)
			}
			countBefore := len(round.Alices)

			err = round.RegisterInput(domain.NewAlice(tc.coin, nil, false, now))
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				require.Len(t, round.Alices, countBefore)
				return
			}
			require.NoError(t, err)
			require.Len(t, round.Alices, countBefore+1)
		})
	}

	t.Run("total above max registrable", func(t *testing.T) {
		params := testParams
		params.MaxRegistrableAmount = 150_000
		round, err := domain.NewRound(params, now, "", nil)
		require.NoError(t, err)

		require.NoError(t, round.RegisterInput(domain.NewAlice(coin(1, 100_000), nil, false, now)))
		err = round.RegisterInput(domain.NewAlice(coin(2, 60_000), nil, false, now))
		require.ErrorIs(t, err, domain.ErrTotalAmountTooHigh)
	})

	t.Run("blame round whitelist", func(t *testing.T) {
		whitelisted := coin(1, 50_000)
		round, err := domain.NewRound(testParams, now, "failed", []domain.Outpoint{
			whitelisted.Outpoint,
		})
		require.NoError(t, err)
		require.True(t, round.IsBlameRound())
		require.Equal(t, now.Add(testParams.BlameInputRegistrationTimeout), round.PhaseDeadline)

		err = round.RegisterInput(domain.NewAlice(coin(2, 50_000), nil, false, now))
		require.ErrorIs(t, err, domain.ErrInputNotWhitelisted)
		require.NoError(t, round.RegisterInput(domain.NewAlice(whitelisted, nil, false, now)))
	})

	t.Run("wrong phase", func(t *testing.T) {
		round, err := domain.NewRound(testParams, now, "", nil)
		require.NoError(t, err)
		require.NoError(t, round.StartConnectionConfirmation(now))

		err = round.RegisterInput(domain.NewAlice(coin(1, 50_000), nil, false, now))
		var wrongPhase *domain.WrongPhaseError
		require.ErrorAs(t, err, &wrongPhase)
		require.Equal(t, domain.PhaseConnectionConfirmation, wrongPhase.Current)
		require.Equal(t, []domain.Phase{domain.PhaseInputRegistration}, wrongPhase.Expected)
		require.Equal(t, now.Add(testParams.ConnectionConfirmationTimeout), wrongPhase.PhaseEndTime)
	})
}

func TestRoundLifecycle(t *testing.T) {
	round, err := domain.NewRound(testParams, now, "", nil)
	require.NoError(t, err)
	require.Len(t, round.Id, 64)

	alices := []domain.Alice{
		domain.NewAlice(coin(1, 50_000), nil, false, now),
		domain.NewAlice(coin(2, 60_000), nil, false, now),
	}
	for _, alice := range alices {
		require.NoError(t, round.RegisterInput(alice))
	}

	require.NoError(t, round.StartConnectionConfirmation(now))
	require.False(t, round.AllAlicesConfirmed())
	require.NoError(t, round.ConfirmAlice(alices[0].Id))
	require.ErrorIs(t, round.ConfirmAlice(alices[0].Id), domain.ErrAliceAlreadyConfirmed)
	require.ErrorIs(t, round.ConfirmAlice("unknown"), domain.ErrAliceNotFound)
	require.Len(t, round.UnconfirmedAlices(), 1)
	require.NoError(t, round.ConfirmAlice(alices[1].Id))
	require.True(t, round.AllAlicesConfirmed())

	require.NoError(t, round.StartOutputRegistration(now))
	require.NoError(t, round.RegisterOutput(domain.Bob{Script: p2tr, Amount: 100_000}))
	require.ErrorIs(
		t, round.RegisterOutput(domain.Bob{Script: p2tr, Amount: 100}), domain.ErrAmountTooLow,
	)
	require.NoError(t, round.SignalReadyToSign(alices[0].Id))
	require.NoError(t, round.SignalReadyToSign(alices[0].Id))
	require.False(t, round.AllAlicesReadyToSign())

	require.NoError(t, round.StartTransactionSigning(now, "deadbeef", "txid"))
	require.Equal(t, "deadbeef", round.CoinjoinState.UnsignedTx)
	require.NoError(t, round.AddWitness(0, [][]byte{{0x01}}))
	require.ErrorIs(t, round.AddWitness(0, [][]byte{{0x01}}), domain.ErrAliceAlreadySigned)
	require.False(t, round.AllWitnessesCollected())
	require.NoError(t, round.AddWitness(1, [][]byte{{0x02}}))
	require.True(t, round.AllWitnessesCollected())

	round.End(domain.EndRoundStateSucceeded, "", "signed", now)
	require.True(t, round.IsEnded())
	round.End(domain.EndRoundStateAbortedWithError, "late", "", now)
	require.Equal(t, domain.EndRoundStateSucceeded, round.EndRoundState)
	require.ErrorIs(t, round.StartOutputRegistration(now), domain.ErrRoundEnded)

	replayed := domain.NewRoundFromEvents(round.Events())
	require.Equal(t, round.Id, replayed.Id)
	require.Equal(t, round.Phase, replayed.Phase)
	require.Equal(t, round.EndRoundState, replayed.EndRoundState)
	require.Equal(t, round.Alices, replayed.Alices)
	require.Equal(t, round.Bobs, replayed.Bobs)
	require.Equal(t, round.CoinjoinState, replayed.CoinjoinState)
}

func TestRemoveAlice(t *testing.T) {
	round, err := domain.NewRound(testParams, now, "", nil)
	require.NoError(t, err)
	alice := domain.NewAlice(coin(1, 50_000), nil, false, now)
	require.NoError(t, round.RegisterInput(alice))

	require.ErrorIs(t, round.RemoveAlice("unknown"), domain.ErrAliceNotFound)
	require.NoError(t, round.RemoveAlice(alice.Id))
	require.Empty(t, round.Alices)

	require.NoError(t, round.RegisterInput(alice))
	require.NoError(t, round.StartConnectionConfirmation(now))
	var wrongPhase *domain.WrongPhaseError
	require.ErrorAs(t, round.RemoveAlice(alice.Id), &wrongPhase)
	require.Len(t, round.Alices, 1)
}

func TestPhaseIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		round, err := domain.NewRound(testParams, now, "", nil)
		require.NoError(rt, err)

		clock := now
		previous := round.Phase
		ended := false
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := range steps {
			clock = clock.Add(time.Duration(rapid.IntRange(0, 90).Draw(rt, "seconds")) * time.Second)
			switch rapid.IntRange(0, 6).Draw(rt, "action") {
			case 0:
				//nolint:errcheck
				round.RegisterInput(domain.NewAlice(coin(i, 50_000), nil, false, clock))
			case 1:
				//nolint:errcheck
				round.StartConnectionConfirmation(clock)
			case 2:
				//nolint:errcheck
				round.StartOutputRegistration(clock)
			case 3:
				//nolint:errcheck
				round.StartTransactionSigning(clock, "", "")
			case 4:
				round.End(domain.EndRoundStateAbortedWithError, "test", "", clock)
			case 5:
				if len(round.Alices) > 0 {
					round.EvictAlices([]string{round.Alices[0].Id}, "test")
				}
			case 6:
				//nolint:errcheck
				round.RegisterOutput(domain.Bob{Script: p2tr, Amount: 10_000})
			}

			if round.Phase < previous {
				rt.Fatalf("phase went back from %s to %s", previous, round.Phase)
			}
			if ended && round.Phase != domain.PhaseEnded {
				rt.Fatalf("round left the ended phase")
			}
			ended = round.IsEnded()
			previous = round.Phase
		}
	})
}
