package ownership_test

import (
	"fmt"
	"testing"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/infrastructure/ownership"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

const (
	coordinatorId = "CoinJoinCoordinatorIdentifier"
	roundId       = "aa11bb22cc33dd44ee55ff6600112233aa11bb22cc33dd44ee55ff6600112233"
	otherRoundId  = "bb11bb22cc33dd44ee55ff6600112233aa11bb22cc33dd44ee55ff6600112233"
)

func TestVerifyOwnershipProof(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	otherKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	outpoint := domain.Outpoint{Txid: fmt.Sprintf("%064x", 7), VOut: 1}
	p2wpkhCoin := domain.Coin{
		Outpoint: outpoint,
		Amount:   100_000,
		PkScript: append(
			[]byte{0x00, 0x14}, btcutil.Hash160(key.PubKey().SerializeCompressed())...,
		),
	}
	p2trCoin := domain.Coin{
		Outpoint: outpoint,
		Amount:   100_000,
		PkScript: append([]byte{0x51, 0x20}, schnorr.SerializePubKey(key.PubKey())...),
	}

	verifier := ownership.NewVerifier()

	for _, coin := range []domain.Coin{p2wpkhCoin, p2trCoin} {
		t.Run(string(coin.ScriptType()), func(t *testing.T) {
			proof, err := ownership.NewProof(key, coin, roundId, coordinatorId)
			require.NoError(t, err)
			require.NoError(t, verifier.VerifyOwnershipProof(coin, roundId, coordinatorId, proof))

			testCases := []struct {
				description   string
				roundId       string
				coordinatorId string
				key           *btcec.PrivateKey
			}{
				{"proof for another round", otherRoundId, coordinatorId, key},
				{"proof for another coordinator", roundId, "other", key},
				{"proof by another key", roundId, coordinatorId, otherKey},
			}
			for _, tc := range testCases {
				t.Run(tc.description, func(t *testing.T) {
					proof, err := ownership.NewProof(tc.key, coin, tc.roundId, tc.coordinatorId)
					require.NoError(t, err)
					err = verifier.VerifyOwnershipProof(coin, roundId, coordinatorId, proof)
					require.Error(t, err)
				})
			}

			err = verifier.VerifyOwnershipProof(coin, roundId, coordinatorId, proof[:10])
			require.Error(t, err)
		})
	}
}
