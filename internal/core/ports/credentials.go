package ports

type CredentialKind string

const (
	CredentialKindAmount CredentialKind = "amount"
	CredentialKindVsize  CredentialKind = "vsize"
)

// NumCredentials is the number of credentials requested and presented at
// every issuance step.
const NumCredentials = 2

// Credential is opaque to the round logic: it is only handed back to the
// issuer that produced it.
type Credential struct {
	Kind      CredentialKind `json:"kind"`
	Value     int64          `json:"value"`
	Serial    []byte         `json:"serial"`
	RoundId   string         `json:"round_id"`
	Signature []byte         `json:"signature"`
}

type CredentialRequest struct {
	Kind      CredentialKind `json:"kind"`
	Presented []Credential   `json:"presented"`
	Requested []int64        `json:"requested"`
	// Proof binds the requested values to the round and the credential kind.
	Proof []byte `json:"proof"`
}

type CredentialIssuer interface {
	Kind() CredentialKind
	MaxValue() int64
	// IssueZeroCredentials issues zero valued credentials to bootstrap a
	// participant. The request must present nothing and request zeros only.
	IssueZeroCredentials(req CredentialRequest) ([]Credential, error)
	// IssueValueCredentials consumes the presented credentials and issues
	// new ones whose total is checked against presented + delta.
	IssueValueCredentials(req CredentialRequest, delta int64) ([]Credential, error)
	// CheckValueCredentials runs every check of IssueValueCredentials
	// without consuming or issuing anything.
	CheckValueCredentials(req CredentialRequest, delta int64) error
	// IssueCredentials signs the requested values. The request must have
	// passed CheckValueCredentials and its presented credentials must have
	// been consumed.
	IssueCredentials(req CredentialRequest) ([]Credential, error)
	// VerifyPresentedCredentials consumes the credentials and returns their
	// total value.
	VerifyPresentedCredentials(presented []Credential) (int64, error)
	CheckPresentedCredentials(presented []Credential) (int64, error)
	// ConsumeCredentials marks already verified credentials as spent. It
	// consumes nothing if any of them is spent.
	ConsumeCredentials(presented []Credential) error
}

type CredentialIssuerFactory interface {
	NewIssuer(roundId string, kind CredentialKind, maxValue int64) (CredentialIssuer, error)
}
