package ports

import "github.com/arkade-os/cjd/internal/core/domain"

type TxBuilder interface {
	// InputVsize and OutputVsize return the vbytes a spend of, or a payment
	// to, the given script adds to a transaction.
	InputVsize(pkScript []byte) int64
	OutputVsize(pkScript []byte) int64
	IsDust(pkScript []byte, amount int64) bool
	// BuildCoinjoinTx assembles the unsigned transaction with a deterministic
	// ordering of inputs and outputs.
	BuildCoinjoinTx(coins []domain.Coin, outputs []domain.Bob) (unsignedTx, txid string, err error)
	// CheckTx verifies the unsigned tx pays at least the given fee rate and
	// does not exceed the max vsize once signed. It returns the estimated
	// vsize and the fee paid.
	CheckTx(
		unsignedTx string, coins []domain.Coin, feeRate, maxVsize int64,
	) (vsize, fee int64, err error)
	InputIndex(unsignedTx string, outpoint domain.Outpoint) (int, error)
	VerifyWitness(
		unsignedTx string, coins []domain.Coin, inputIndex int, witness [][]byte,
	) error
	FinalizeTx(unsignedTx string, witnesses map[int][][]byte) (signedTx string, err error)
	// BuildPsbt returns the unsigned tx as a base64 PSBT with witness utxos.
	BuildPsbt(unsignedTx string, coins []domain.Coin) (string, error)
}
