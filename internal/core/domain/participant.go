package domain

import (
	"time"

	"github.com/google/uuid"
)

// Alice is the registration of one input in a round.
type Alice struct {
	Id                          string
	Coin                        Coin
	OwnershipProof              []byte
	ConnectionConfirmed         bool
	ReadyToSign                 bool
	IsPayingZeroCoordinationFee bool
	// Deadline is the keep-alive limit while the round is in input registration.
	Deadline time.Time
}

func NewAlice(
	coin Coin, ownershipProof []byte, isPayingZeroCoordinationFee bool, deadline time.Time,
) Alice {
	return Alice{
		Id:                          uuid.New().String(),
		Coin:                        coin,
		OwnershipProof:              ownershipProof,
		IsPayingZeroCoordinationFee: isPayingZeroCoordinationFee,
		Deadline:                    deadline,
	}
}

// Bob is an output registration, unlinkable to any Alice.
type Bob struct {
	Script []byte
	Amount int64
}

func (b Bob) ScriptType() ScriptType {
	return ScriptTypeFromScript(b.Script)
}

// CoinjoinState holds the transaction under construction once outputs are
// frozen. Witnesses are indexed by input position in UnsignedTx.
type CoinjoinState struct {
	UnsignedTx string
	Txid       string
	Witnesses  map[int][][]byte
	SignedTx   string
}
