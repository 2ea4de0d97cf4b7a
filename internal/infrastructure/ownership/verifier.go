package ownership

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var proofTag = []byte("CJ-OwnershipProof")

// A P2WPKH proof is the 33 bytes compressed pubkey followed by a DER ECDSA
// signature. A P2TR proof is a 64 bytes BIP-340 signature by the output key.
type verifier struct{}

func NewVerifier() ports.OwnershipVerifier {
	return verifier{}
}

func (verifier) VerifyOwnershipProof(
	coin domain.Coin, roundId, coordinatorId string, proof []byte,
) error {
	msg, err := ProofMessage(coin.Outpoint, roundId, coordinatorId)
	if err != nil {
		return err
	}

	switch coin.ScriptType() {
	case domain.ScriptTypeP2WPKH:
		if len(proof) <= btcec.PubKeyBytesLenCompressed {
			return fmt.Errorf("proof too short")
		}
		pubkeyBytes := proof[:btcec.PubKeyBytesLenCompressed]
		pubkey, err := btcec.ParsePubKey(pubkeyBytes)
		if err != nil {
			return fmt.Errorf("invalid pubkey: %s", err)
		}
		if !bytes.Equal(btcutil.Hash160(pubkeyBytes), coin.PkScript[2:22]) {
			return fmt.Errorf("pubkey does not match the coin script")
		}
		sig, err := ecdsa.ParseDERSignature(proof[btcec.PubKeyBytesLenCompressed:])
		if err != nil {
			return fmt.Errorf("invalid signature: %s", err)
		}
		if !sig.Verify(msg[:], pubkey) {
			return fmt.Errorf("invalid ownership proof signature")
		}
		return nil

	case domain.ScriptTypeP2TR:
		pubkey, err := schnorr.ParsePubKey(coin.PkScript[2:34])
		if err != nil {
			return fmt.Errorf("invalid taproot output key: %s", err)
		}
		sig, err := schnorr.ParseSignature(proof)
		if err != nil {
			return fmt.Errorf("invalid signature: %s", err)
		}
		if !sig.Verify(msg[:], pubkey) {
			return fmt.Errorf("invalid ownership proof signature")
		}
		return nil

	default:
		return fmt.Errorf("unsupported script type %s", coin.ScriptType())
	}
}

// ProofMessage is the message an ownership proof signs.
func ProofMessage(
	outpoint domain.Outpoint, roundId, coordinatorId string,
) (*chainhash.Hash, error) {
	roundIdBytes, err := hex.DecodeString(roundId)
	if err != nil {
		return nil, fmt.Errorf("invalid round id: %s", err)
	}
	txid, err := chainhash.NewHashFromStr(outpoint.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint txid: %s", err)
	}
	vout := make([]byte, 4)
	binary.LittleEndian.PutUint32(vout, outpoint.VOut)

	return chainhash.TaggedHash(
		proofTag, []byte(coordinatorId), roundIdBytes, txid[:], vout,
	), nil
}

// NewProof signs an ownership proof for the coin with the given key.
func NewProof(
	key *btcec.PrivateKey, coin domain.Coin, roundId, coordinatorId string,
) ([]byte, error) {
	msg, err := ProofMessage(coin.Outpoint, roundId, coordinatorId)
	if err != nil {
		return nil, err
	}

	switch coin.ScriptType() {
	case domain.ScriptTypeP2WPKH:
		sig := ecdsa.Sign(key, msg[:])
		return append(key.PubKey().SerializeCompressed(), sig.Serialize()...), nil
	case domain.ScriptTypeP2TR:
		sig, err := schnorr.Sign(key, msg[:])
		if err != nil {
			return nil, err
		}
		return sig.Serialize(), nil
	default:
		return nil, fmt.Errorf("unsupported script type %s", coin.ScriptType())
	}
}
