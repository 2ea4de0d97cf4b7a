package domain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

type Outpoint struct {
	Txid string
	VOut uint32
}

func (k *Outpoint) FromString(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid outpoint string: %s", s)
	}
	if len(parts[0]) != 64 {
		return fmt.Errorf("invalid txid: %s", parts[0])
	}
	if _, err := hex.DecodeString(parts[0]); err != nil {
		return fmt.Errorf("invalid txid: %s", parts[0])
	}
	k.Txid = parts[0]
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout string: %s", parts[1])
	}
	k.VOut = uint32(vout)
	return nil
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

type ScriptType string

const (
	ScriptTypeP2WPKH  ScriptType = "p2wpkh"
	ScriptTypeP2TR    ScriptType = "p2tr"
	ScriptTypeUnknown ScriptType = "unknown"
)

func ScriptTypeFromScript(script []byte) ScriptType {
	switch {
	case txscript.IsPayToWitnessPubKeyHash(script):
		return ScriptTypeP2WPKH
	case txscript.IsPayToTaproot(script):
		return ScriptTypeP2TR
	default:
		return ScriptTypeUnknown
	}
}

// Coin is an unspent output claimed by a participant.
type Coin struct {
	Outpoint
	Amount   int64
	PkScript []byte
}

func (c Coin) ScriptType() ScriptType {
	return ScriptTypeFromScript(c.PkScript)
}

func (c Coin) String() string {
	return fmt.Sprintf("%s (%d sats, %s)", c.Outpoint, c.Amount, c.ScriptType())
}
