package ports

import "github.com/arkade-os/cjd/internal/core/domain"

type OwnershipVerifier interface {
	// VerifyOwnershipProof checks the proof is a signature by the key locking
	// the coin over the round and coordinator identifiers.
	VerifyOwnershipProof(coin domain.Coin, roundId, coordinatorId string, proof []byte) error
}
