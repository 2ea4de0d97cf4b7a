package credentials

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	credentialTag = []byte("CJ-Credential")
	rangeProofTag = []byte("CJ-CredentialRequest")
)

type issuerFactory struct {
	policy ConservationPolicy
}

// NewIssuerFactory returns a factory creating one issuer, with its own fresh
// key, per round and credential kind.
func NewIssuerFactory(policy ConservationPolicy) ports.CredentialIssuerFactory {
	if policy == nil {
		policy = ExactConservation()
	}
	return &issuerFactory{policy}
}

func (f *issuerFactory) NewIssuer(
	roundId string, kind ports.CredentialKind, maxValue int64,
) (ports.CredentialIssuer, error) {
	if kind != ports.CredentialKindAmount && kind != ports.CredentialKindVsize {
		return nil, fmt.Errorf("unknown credential kind %s", kind)
	}
	if maxValue <= 0 {
		return nil, fmt.Errorf("max credential value must be positive")
	}
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate issuer key: %s", err)
	}

	return &issuer{
		roundId:    roundId,
		kind:       kind,
		maxValue:   maxValue,
		key:        key,
		policy:     f.policy,
		lock:       &sync.Mutex{},
		nullifiers: make(map[string]struct{}),
	}, nil
}

type issuer struct {
	roundId  string
	kind     ports.CredentialKind
	maxValue int64
	key      *btcec.PrivateKey
	policy   ConservationPolicy

	lock       *sync.Mutex
	nullifiers map[string]struct{}
}

func (i *issuer) Kind() ports.CredentialKind {
	return i.kind
}

func (i *issuer) MaxValue() int64 {
	return i.maxValue
}

func (i *issuer) IssueZeroCredentials(req ports.CredentialRequest) ([]ports.Credential, error) {
	if err := i.validateRequest(req); err != nil {
		return nil, err
	}
	if len(req.Presented) > 0 {
		return nil, fmt.Errorf("zero credential request must not present credentials")
	}
	for _, value := range req.Requested {
		if value != 0 {
			return nil, fmt.Errorf("zero credential request must request zero values")
		}
	}

	return i.issue(req.Requested)
}

// IssueValueCredentials verifies the request outside the lock, which only
// guards the nullifier set.
func (i *issuer) IssueValueCredentials(
	req ports.CredentialRequest, delta int64,
) ([]ports.Credential, error) {
	if err := i.checkValueRequest(req, delta); err != nil {
		return nil, err
	}
	if err := i.ConsumeCredentials(req.Presented); err != nil {
		return nil, err
	}
	return i.issue(req.Requested)
}

func (i *issuer) CheckValueCredentials(req ports.CredentialRequest, delta int64) error {
	return i.checkValueRequest(req, delta)
}

func (i *issuer) IssueCredentials(req ports.CredentialRequest) ([]ports.Credential, error) {
	if err := i.validateRequest(req); err != nil {
		return nil, err
	}
	return i.issue(req.Requested)
}

func (i *issuer) VerifyPresentedCredentials(presented []ports.Credential) (int64, error) {
	total, err := i.CheckPresentedCredentials(presented)
	if err != nil {
		return 0, err
	}
	if err := i.ConsumeCredentials(presented); err != nil {
		return 0, err
	}
	return total, nil
}

func (i *issuer) CheckPresentedCredentials(presented []ports.Credential) (int64, error) {
	if len(presented) != ports.NumCredentials {
		return 0, fmt.Errorf(
			"expected %d presented credentials, got %d", ports.NumCredentials, len(presented),
		)
	}
	total, err := i.verify(presented)
	if err != nil {
		return 0, err
	}

	i.lock.Lock()
	defer i.lock.Unlock()
	if err := i.checkUnspent(presented); err != nil {
		return 0, err
	}
	return total, nil
}

// ConsumeCredentials spends all the credentials or none of them.
func (i *issuer) ConsumeCredentials(presented []ports.Credential) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	if err := i.checkUnspent(presented); err != nil {
		return err
	}
	for _, c := range presented {
		i.nullifiers[hex.EncodeToString(c.Serial)] = struct{}{}
	}
	return nil
}

func (i *issuer) checkValueRequest(req ports.CredentialRequest, delta int64) error {
	if err := i.validateRequest(req); err != nil {
		return err
	}
	if len(req.Presented) != ports.NumCredentials {
		return fmt.Errorf(
			"expected %d presented credentials, got %d", ports.NumCredentials, len(req.Presented),
		)
	}

	requested := int64(0)
	for _, value := range req.Requested {
		requested += value
	}
	if requested > i.maxValue {
		return fmt.Errorf("requested total %d exceeds max %d", requested, i.maxValue)
	}

	presented, err := i.verify(req.Presented)
	if err != nil {
		return err
	}
	if err := i.policy.Check(presented, delta, requested); err != nil {
		return err
	}

	i.lock.Lock()
	defer i.lock.Unlock()
	return i.checkUnspent(req.Presented)
}

func (i *issuer) validateRequest(req ports.CredentialRequest) error {
	if req.Kind != i.kind {
		return fmt.Errorf("expected %s credentials, got %s", i.kind, req.Kind)
	}
	if len(req.Requested) != ports.NumCredentials {
		return fmt.Errorf(
			"expected %d requested credentials, got %d", ports.NumCredentials, len(req.Requested),
		)
	}
	for _, value := range req.Requested {
		if value < 0 || value > i.maxValue {
			return fmt.Errorf("requested value %d out of range [0, %d]", value, i.maxValue)
		}
	}
	expectedProof := NewRangeProof(i.roundId, i.kind, req.Requested)
	if !bytes.Equal(expectedProof, req.Proof) {
		return fmt.Errorf("invalid range proof")
	}
	return nil
}

// verify checks the signature of every presented credential and returns
// their total. Spent serials are not looked at.
func (i *issuer) verify(presented []ports.Credential) (int64, error) {
	seen := make(map[string]struct{}, len(presented))
	total := int64(0)
	for _, c := range presented {
		if c.Kind != i.kind {
			return 0, fmt.Errorf("expected %s credential, got %s", i.kind, c.Kind)
		}
		if c.RoundId != i.roundId {
			return 0, fmt.Errorf("credential issued for another round")
		}
		if c.Value < 0 || c.Value > i.maxValue {
			return 0, fmt.Errorf("credential value out of range")
		}
		serial := hex.EncodeToString(c.Serial)
		if _, ok := seen[serial]; ok {
			return 0, fmt.Errorf("credential %s presented twice", serial)
		}
		seen[serial] = struct{}{}

		sig, err := schnorr.ParseSignature(c.Signature)
		if err != nil {
			return 0, fmt.Errorf("invalid credential signature: %s", err)
		}
		msg := credentialMessage(i.roundId, i.kind, c.Value, c.Serial)
		if !sig.Verify(msg[:], i.key.PubKey()) {
			return 0, fmt.Errorf("invalid credential signature")
		}
		total += c.Value
	}
	return total, nil
}

// checkUnspent must be called with the lock held.
func (i *issuer) checkUnspent(presented []ports.Credential) error {
	seen := make(map[string]struct{}, len(presented))
	for _, c := range presented {
		serial := hex.EncodeToString(c.Serial)
		if _, ok := i.nullifiers[serial]; ok {
			return fmt.Errorf("credential %s already spent", serial)
		}
		if _, ok := seen[serial]; ok {
			return fmt.Errorf("credential %s presented twice", serial)
		}
		seen[serial] = struct{}{}
	}
	return nil
}

func (i *issuer) issue(values []int64) ([]ports.Credential, error) {
	credentials := make([]ports.Credential, 0, len(values))
	for _, value := range values {
		serial := make([]byte, 32)
		if _, err := rand.Read(serial); err != nil {
			return nil, fmt.Errorf("failed to generate credential serial: %s", err)
		}
		msg := credentialMessage(i.roundId, i.kind, value, serial)
		sig, err := schnorr.Sign(i.key, msg[:])
		if err != nil {
			return nil, fmt.Errorf("failed to sign credential: %s", err)
		}
		credentials = append(credentials, ports.Credential{
			Kind:      i.kind,
			Value:     value,
			Serial:    serial,
			RoundId:   i.roundId,
			Signature: sig.Serialize(),
		})
	}
	return credentials, nil
}

// NewRangeProof returns the proof expected along with a credential request
// for the given values.
func NewRangeProof(roundId string, kind ports.CredentialKind, values []int64) []byte {
	msgs := [][]byte{[]byte(roundId), []byte(kind)}
	for _, value := range values {
		msgs = append(msgs, encodeValue(value))
	}
	hash := chainhash.TaggedHash(rangeProofTag, msgs...)
	return hash[:]
}

// NewCredentialRequest builds a well formed request for the given values.
func NewCredentialRequest(
	roundId string, kind ports.CredentialKind, presented []ports.Credential, values []int64,
) ports.CredentialRequest {
	return ports.CredentialRequest{
		Kind:      kind,
		Presented: presented,
		Requested: values,
		Proof:     NewRangeProof(roundId, kind, values),
	}
}

func credentialMessage(
	roundId string, kind ports.CredentialKind, value int64, serial []byte,
) *chainhash.Hash {
	return chainhash.TaggedHash(
		credentialTag, []byte(roundId), []byte(kind), encodeValue(value), serial,
	)
}

func encodeValue(value int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))
	return buf
}
