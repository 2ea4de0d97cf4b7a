package txbuilder_test

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/arkade-os/cjd/internal/core/domain"
	txbuilder "github.com/arkade-os/cjd/internal/infrastructure/tx-builder/coinjoin"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const feeRate = 2000

type signer struct {
	key  *btcec.PrivateKey
	coin domain.Coin
}

func newSigners(t *testing.T) []signer {
	wpkhKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	trKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	wpkhScript, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(wpkhKey.PubKey().SerializeCompressed())).Script()
	require.NoError(t, err)
	trScript, err := txscript.PayToTaprootScript(
		txscript.ComputeTaprootKeyNoScript(trKey.PubKey()),
	)
	require.NoError(t, err)

	return []signer{
		{wpkhKey, domain.Coin{
			Outpoint: domain.Outpoint{Txid: fmt.Sprintf("%064x", 2), VOut: 0},
			Amount:   200_000,
			PkScript: wpkhScript,
		}},
		{trKey, domain.Coin{
			Outpoint: domain.Outpoint{Txid: fmt.Sprintf("%064x", 1), VOut: 3},
			Amount:   100_000,
			PkScript: trScript,
		}},
	}
}

func sign(
	t *testing.T, unsignedTx string, coins []domain.Coin, s signer, index int,
) [][]byte {
	buf, err := hex.DecodeString(unsignedTx)
	require.NoError(t, err)
	tx := &wire.MsgTx{}
	require.NoError(t, tx.Deserialize(bytes.NewReader(buf)))

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		for _, coin := range coins {
			if in.PreviousOutPoint.String() == coin.Outpoint.String() {
				prevouts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(coin.Amount, coin.PkScript)
			}
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	if s.coin.ScriptType() == domain.ScriptTypeP2TR {
		sig, err := txscript.RawTxInTaprootSignature(
			tx, sigHashes, index, s.coin.Amount, s.coin.PkScript, nil,
			txscript.SigHashDefault, s.key,
		)
		require.NoError(t, err)
		return [][]byte{sig}
	}

	witness, err := txscript.WitnessSignature(
		tx, sigHashes, index, s.coin.Amount, s.coin.PkScript,
		txscript.SigHashAll, s.key, true,
	)
	require.NoError(t, err)
	return witness
}

func TestCoinjoinTx(t *testing.T) {
	builder := txbuilder.NewTxBuilder()
	signers := newSigners(t)
	coins := []domain.Coin{signers[0].coin, signers[1].coin}

	outputs := []domain.Bob{
		{Script: signers[0].coin.PkScript, Amount: 150_000},
		{Script: signers[1].coin.PkScript, Amount: 149_000},
	}

	unsignedTx, txid, err := builder.BuildCoinjoinTx(coins, outputs)
	require.NoError(t, err)
	require.Len(t, txid, 64)

	// inputs sorted by outpoint
	idx, err := builder.InputIndex(unsignedTx, signers[1].coin.Outpoint)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	idx, err = builder.InputIndex(unsignedTx, signers[0].coin.Outpoint)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	vsize, fee, err := builder.CheckTx(unsignedTx, coins, feeRate, 100_000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), fee)
	require.Positive(t, vsize)

	_, _, err = builder.CheckTx(unsignedTx, coins, 1_000_000, 100_000)
	require.Error(t, err)
	_, _, err = builder.CheckTx(unsignedTx, coins, feeRate, 10)
	require.Error(t, err)

	witnesses := make(map[int][][]byte)
	for _, s := range signers {
		index, err := builder.InputIndex(unsignedTx, s.coin.Outpoint)
		require.NoError(t, err)
		witness := sign(t, unsignedTx, coins, s, index)

		require.NoError(t, builder.VerifyWitness(unsignedTx, coins, index, witness))
		require.Error(t, builder.VerifyWitness(unsignedTx, coins, 1-index, witness))
		witnesses[index] = witness
	}

	_, err = builder.FinalizeTx(unsignedTx, map[int][][]byte{0: witnesses[0]})
	require.Error(t, err)

	signedTx, err := builder.FinalizeTx(unsignedTx, witnesses)
	require.NoError(t, err)
	buf, err := hex.DecodeString(signedTx)
	require.NoError(t, err)
	tx := &wire.MsgTx{}
	require.NoError(t, tx.Deserialize(bytes.NewReader(buf)))
	require.Equal(t, txid, tx.TxHash().String())

	b64, err := builder.BuildPsbt(unsignedTx, coins)
	require.NoError(t, err)
	ptx, err := psbt.NewFromRawBytes(bytes.NewReader([]byte(b64)), true)
	require.NoError(t, err)
	for _, in := range ptx.Inputs {
		require.NotNil(t, in.WitnessUtxo)
	}
}

func TestSizes(t *testing.T) {
	builder := txbuilder.NewTxBuilder()
	signers := newSigners(t)
	wpkh, tr := signers[0].coin.PkScript, signers[1].coin.PkScript

	require.Equal(t, int64(69), builder.InputVsize(wpkh))
	require.Equal(t, int64(58), builder.InputVsize(tr))
	require.Equal(t, int64(31), builder.OutputVsize(wpkh))
	require.Equal(t, int64(43), builder.OutputVsize(tr))

	require.True(t, builder.IsDust(wpkh, 100))
	require.False(t, builder.IsDust(wpkh, 10_000))
}
