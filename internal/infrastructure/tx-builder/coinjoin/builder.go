package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/lightningnetwork/lnd/input"
)

const txVersion = 2

type txBuilder struct{}

func NewTxBuilder() ports.TxBuilder {
	return &txBuilder{}
}

func (b *txBuilder) InputVsize(pkScript []byte) int64 {
	switch domain.ScriptTypeFromScript(pkScript) {
	case domain.ScriptTypeP2TR:
		return vsize(txsizes.RedeemP2TRInputSize, txsizes.RedeemP2TRInputWitnessWeight)
	default:
		return vsize(txsizes.RedeemP2WPKHInputSize, txsizes.RedeemP2WPKHInputWitnessWeight)
	}
}

func (b *txBuilder) OutputVsize(pkScript []byte) int64 {
	switch domain.ScriptTypeFromScript(pkScript) {
	case domain.ScriptTypeP2TR:
		return txsizes.P2TROutputSize
	case domain.ScriptTypeP2WPKH:
		return txsizes.P2WPKHOutputSize
	default:
		return int64(wire.NewTxOut(0, pkScript).SerializeSize())
	}
}

func (b *txBuilder) IsDust(pkScript []byte, amount int64) bool {
	return txrules.IsDustOutput(wire.NewTxOut(amount, pkScript), txrules.DefaultRelayFeePerKb)
}

func (b *txBuilder) BuildCoinjoinTx(
	coins []domain.Coin, outputs []domain.Bob,
) (string, string, error) {
	if len(coins) == 0 {
		return "", "", fmt.Errorf("missing inputs")
	}
	if len(outputs) == 0 {
		return "", "", fmt.Errorf("missing outputs")
	}

	tx := wire.NewMsgTx(txVersion)
	for _, coin := range coins {
		outpoint, err := toWireOutpoint(coin.Outpoint)
		if err != nil {
			return "", "", err
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *outpoint,
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	for _, bob := range outputs {
		tx.AddTxOut(wire.NewTxOut(bob.Amount, bob.Script))
	}

	// BIP-69 ordering leaks nothing about registration order.
	txsort.InPlaceSort(tx)

	unsignedTx, err := serialize(tx)
	if err != nil {
		return "", "", err
	}
	return unsignedTx, tx.TxHash().String(), nil
}

func (b *txBuilder) CheckTx(
	unsignedTx string, coins []domain.Coin, feeRate, maxVsize int64,
) (int64, int64, error) {
	tx, err := deserialize(unsignedTx)
	if err != nil {
		return 0, 0, err
	}
	prevouts, err := prevoutsByOutpoint(coins)
	if err != nil {
		return 0, 0, err
	}
	if len(tx.TxIn) != len(prevouts) {
		return 0, 0, fmt.Errorf(
			"tx has %d inputs, expected %d", len(tx.TxIn), len(prevouts),
		)
	}

	weightEstimator := &input.TxWeightEstimator{}
	inputAmount, outputAmount, requiredFee := int64(0), int64(0), int64(0)
	for _, in := range tx.TxIn {
		prevout, ok := prevouts[in.PreviousOutPoint]
		if !ok {
			return 0, 0, fmt.Errorf("unknown input %s", in.PreviousOutPoint)
		}
		switch domain.ScriptTypeFromScript(prevout.PkScript) {
		case domain.ScriptTypeP2WPKH:
			weightEstimator.AddP2WKHInput()
		case domain.ScriptTypeP2TR:
			weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
		default:
			return 0, 0, fmt.Errorf("unsupported input script %x", prevout.PkScript)
		}
		inputAmount += prevout.Value
		requiredFee += fee(feeRate, b.InputVsize(prevout.PkScript))
	}
	for _, out := range tx.TxOut {
		if b.IsDust(out.PkScript, out.Value) {
			return 0, 0, fmt.Errorf("output %x of %d sats is dust", out.PkScript, out.Value)
		}
		weightEstimator.AddOutput(out.PkScript)
		outputAmount += out.Value
		requiredFee += fee(feeRate, b.OutputVsize(out.PkScript))
	}

	vsize := int64(weightEstimator.VSize())
	if maxVsize > 0 && vsize > maxVsize {
		return vsize, 0, fmt.Errorf("tx vsize %d exceeds max %d", vsize, maxVsize)
	}

	// The shared tx overhead is not charged to participants.
	paidFee := inputAmount - outputAmount
	if paidFee < requiredFee {
		return vsize, paidFee, fmt.Errorf(
			"tx pays %d sats of fees, at least %d required", paidFee, requiredFee,
		)
	}
	return vsize, paidFee, nil
}

func (b *txBuilder) InputIndex(unsignedTx string, outpoint domain.Outpoint) (int, error) {
	tx, err := deserialize(unsignedTx)
	if err != nil {
		return -1, err
	}
	prevout, err := toWireOutpoint(outpoint)
	if err != nil {
		return -1, err
	}
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint == *prevout {
			return i, nil
		}
	}
	return -1, fmt.Errorf("input %s not found in tx", outpoint)
}

func (b *txBuilder) VerifyWitness(
	unsignedTx string, coins []domain.Coin, inputIndex int, witness [][]byte,
) error {
	tx, err := deserialize(unsignedTx)
	if err != nil {
		return err
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return fmt.Errorf("input index %d out of range", inputIndex)
	}
	prevouts, err := prevoutsByOutpoint(coins)
	if err != nil {
		return err
	}
	prevoutFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	prevout := prevoutFetcher.FetchPrevOutput(tx.TxIn[inputIndex].PreviousOutPoint)
	if prevout == nil {
		return fmt.Errorf("missing prevout for input %d", inputIndex)
	}

	tx.TxIn[inputIndex].Witness = witness
	txSigHashes := txscript.NewTxSigHashes(tx, prevoutFetcher)

	engine, err := txscript.NewEngine(
		prevout.PkScript, tx, inputIndex, txscript.StandardVerifyFlags,
		nil, txSigHashes, prevout.Value, prevoutFetcher,
	)
	if err != nil {
		return fmt.Errorf("failed to create script engine: %s", err)
	}
	if err := engine.Execute(); err != nil {
		return fmt.Errorf("invalid witness for input %d: %s", inputIndex, err)
	}
	return nil
}

func (b *txBuilder) FinalizeTx(unsignedTx string, witnesses map[int][][]byte) (string, error) {
	tx, err := deserialize(unsignedTx)
	if err != nil {
		return "", err
	}
	for i, in := range tx.TxIn {
		witness, ok := witnesses[i]
		if !ok || len(witness) == 0 {
			return "", fmt.Errorf("missing witness for input %d", i)
		}
		in.Witness = witness
	}
	return serialize(tx)
}

func (b *txBuilder) BuildPsbt(unsignedTx string, coins []domain.Coin) (string, error) {
	tx, err := deserialize(unsignedTx)
	if err != nil {
		return "", err
	}
	prevouts, err := prevoutsByOutpoint(coins)
	if err != nil {
		return "", err
	}

	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", fmt.Errorf("failed to create psbt: %s", err)
	}
	for i, in := range tx.TxIn {
		prevout, ok := prevouts[in.PreviousOutPoint]
		if !ok {
			return "", fmt.Errorf("unknown input %s", in.PreviousOutPoint)
		}
		ptx.Inputs[i].WitnessUtxo = prevout
		ptx.Inputs[i].SighashType = txscript.SigHashAll
		if domain.ScriptTypeFromScript(prevout.PkScript) == domain.ScriptTypeP2TR {
			ptx.Inputs[i].SighashType = txscript.SigHashDefault
		}
	}
	return ptx.B64Encode()
}

func vsize(baseSize, witnessWeight int) int64 {
	return int64((baseSize*4 + witnessWeight + 3) / 4)
}

func fee(feeRate, vsize int64) int64 {
	return (feeRate*vsize + 999) / 1000
}

func toWireOutpoint(outpoint domain.Outpoint) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(outpoint.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint %s: %s", outpoint, err)
	}
	return wire.NewOutPoint(hash, outpoint.VOut), nil
}

func prevoutsByOutpoint(coins []domain.Coin) (map[wire.OutPoint]*wire.TxOut, error) {
	prevouts := make(map[wire.OutPoint]*wire.TxOut, len(coins))
	for _, coin := range coins {
		outpoint, err := toWireOutpoint(coin.Outpoint)
		if err != nil {
			return nil, err
		}
		prevouts[*outpoint] = wire.NewTxOut(coin.Amount, coin.PkScript)
	}
	return prevouts, nil
}

func serialize(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize tx: %s", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserialize(txhex string) (*wire.MsgTx, error) {
	buf, err := hex.DecodeString(txhex)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %s", err)
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("failed to deserialize tx: %s", err)
	}
	return tx, nil
}
