package handlers

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
)

const maxBodySize = 1 << 20

func parseBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read request body: %s", err)
	}
	if len(body) <= 0 {
		return fmt.Errorf("missing request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid request body: %s", err)
	}
	return nil
}

func parseRoundId(id string) (string, error) {
	if len(id) <= 0 {
		return "", fmt.Errorf("missing round id")
	}
	buf, err := hex.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("invalid round id format, expected hex")
	}
	if len(buf) != chainhash.HashSize {
		return "", fmt.Errorf("invalid round id length, expected %d bytes", chainhash.HashSize)
	}
	return id, nil
}

func parseAliceId(id string) (string, error) {
	if len(id) <= 0 {
		return "", fmt.Errorf("missing alice id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid alice id: %s", err)
	}
	return id, nil
}

func parseTxid(txid string) (string, error) {
	if len(txid) <= 0 {
		return "", fmt.Errorf("missing txid")
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return "", fmt.Errorf("invalid txid: %s", err)
	}
	if len(txid) != 2*chainhash.HashSize {
		return "", fmt.Errorf("invalid txid length")
	}
	return txid, nil
}

func parseOutpoint(s string) (*domain.Outpoint, error) {
	if len(s) <= 0 {
		return nil, fmt.Errorf("missing outpoint")
	}
	var outpoint domain.Outpoint
	if err := outpoint.FromString(s); err != nil {
		return nil, err
	}
	if _, err := parseTxid(outpoint.Txid); err != nil {
		return nil, err
	}
	return &outpoint, nil
}

func parseHex(s, name string) ([]byte, error) {
	if len(s) <= 0 {
		return nil, fmt.Errorf("missing %s", name)
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format, expected hex", name)
	}
	return buf, nil
}

func parseWitness(items []string) ([][]byte, error) {
	if len(items) <= 0 {
		return nil, fmt.Errorf("missing witness")
	}
	witness := make([][]byte, 0, len(items))
	for i, item := range items {
		// Empty stack items are legit.
		buf, err := hex.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("invalid witness item %d, expected hex", i)
		}
		witness = append(witness, buf)
	}
	return witness, nil
}

// withKind fills in the credential kind implied by the field the request was
// sent in. Everything else is left to the issuer.
func withKind(req ports.CredentialRequest, kind ports.CredentialKind) ports.CredentialRequest {
	if req.Kind == "" {
		req.Kind = kind
	}
	return req
}

func parseCredentials(
	creds []ports.Credential, kind ports.CredentialKind,
) ([]ports.Credential, error) {
	if len(creds) <= 0 {
		return nil, fmt.Errorf("missing %s credentials", kind)
	}
	return creds, nil
}

// parseTimestamp returns 0 if the query param is not set.
func parseTimestamp(r *http.Request, name string) (int64, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("invalid %s timestamp", name)
	}
	return ts, nil
}
