package credentials_test

import (
	"testing"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/internal/infrastructure/credentials"
	"github.com/stretchr/testify/require"
)

const roundId = "0f0e0d0c0b0a09080706050403020100"

func newIssuer(t *testing.T, policy credentials.ConservationPolicy) ports.CredentialIssuer {
	issuer, err := credentials.NewIssuerFactory(policy).
		NewIssuer(roundId, ports.CredentialKindAmount, 1_000_000)
	require.NoError(t, err)
	return issuer
}

func zeroCredentials(t *testing.T, issuer ports.CredentialIssuer) []ports.Credential {
	creds, err := issuer.IssueZeroCredentials(credentials.NewCredentialRequest(
		roundId, ports.CredentialKindAmount, nil, []int64{0, 0},
	))
	require.NoError(t, err)
	require.Len(t, creds, ports.NumCredentials)
	return creds
}

func TestIssueZeroCredentials(t *testing.T) {
	issuer := newIssuer(t, nil)

	testCases := []struct {
		description string
		request     ports.CredentialRequest
	}{
		{
			description: "non zero value",
			request: credentials.NewCredentialRequest(
				roundId, ports.CredentialKindAmount, nil, []int64{0, 1},
			),
		},
		{
			description: "wrong count",
			request: credentials.NewCredentialRequest(
				roundId, ports.CredentialKindAmount, nil, []int64{0},
			),
		},
		{
			description: "wrong kind",
			request: credentials.NewCredentialRequest(
				roundId, ports.CredentialKindVsize, nil, []int64{0, 0},
			),
		},
		{
			description: "proof bound to another round",
			request: credentials.NewCredentialRequest(
				"other", ports.CredentialKindAmount, nil, []int64{0, 0},
			),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := issuer.IssueZeroCredentials(tc.request)
			require.Error(t, err)
		})
	}

	t.Run("valid", func(t *testing.T) {
		creds := zeroCredentials(t, issuer)
		for _, c := range creds {
			require.Zero(t, c.Value)
			require.Equal(t, roundId, c.RoundId)
		}
	})
}

func TestIssueValueCredentials(t *testing.T) {
	t.Run("exact conservation", func(t *testing.T) {
		issuer := newIssuer(t, nil)
		zero := zeroCredentials(t, issuer)

		_, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{60_000, 39_999},
		), 100_000)
		require.Error(t, err)

		creds, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{60_000, 40_000},
		), 100_000)
		require.NoError(t, err)
		require.Equal(t, int64(60_000), creds[0].Value)

		// presented credentials are spent
		_, err = issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{60_000, 40_000},
		), 100_000)
		require.Error(t, err)

		// reissuance without adding value
		reissued, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, creds, []int64{100_000, 0},
		), 0)
		require.NoError(t, err)

		total, err := issuer.VerifyPresentedCredentials(reissued)
		require.NoError(t, err)
		require.Equal(t, int64(100_000), total)

		_, err = issuer.VerifyPresentedCredentials(reissued)
		require.Error(t, err)
	})

	t.Run("bounded conservation", func(t *testing.T) {
		issuer := newIssuer(t, credentials.BoundedConservation(1000))
		zero := zeroCredentials(t, issuer)

		_, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{50_000, 48_999},
		), 100_000)
		require.Error(t, err)

		_, err = issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{50_000, 49_000},
		), 100_000)
		require.NoError(t, err)
	})

	t.Run("value out of range", func(t *testing.T) {
		issuer := newIssuer(t, nil)
		zero := zeroCredentials(t, issuer)

		_, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, zero, []int64{1_000_001, 0},
		), 1_000_001)
		require.Error(t, err)
	})

	t.Run("forged credentials", func(t *testing.T) {
		issuer := newIssuer(t, nil)
		other := newIssuer(t, nil)
		forged := zeroCredentials(t, other)

		_, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
			roundId, ports.CredentialKindAmount, forged, []int64{100, 0},
		), 100)
		require.Error(t, err)

		zero := zeroCredentials(t, issuer)
		zero[0].Value = 10
		_, err = issuer.VerifyPresentedCredentials(zero)
		require.Error(t, err)
	})

	t.Run("same credential twice", func(t *testing.T) {
		issuer := newIssuer(t, nil)
		zero := zeroCredentials(t, issuer)

		_, err := issuer.VerifyPresentedCredentials([]ports.Credential{zero[0], zero[0]})
		require.Error(t, err)
		// a failed presentation does not spend anything
		_, err = issuer.VerifyPresentedCredentials(zero)
		require.NoError(t, err)
	})
}

func TestCheckCredentials(t *testing.T) {
	issuer := newIssuer(t, nil)
	zero := zeroCredentials(t, issuer)

	req := credentials.NewCredentialRequest(
		roundId, ports.CredentialKindAmount, zero, []int64{70_000, 30_000},
	)
	require.Error(t, issuer.CheckValueCredentials(req, 90_000))
	require.NoError(t, issuer.CheckValueCredentials(req, 100_000))
	// Checking twice is fine: nothing is consumed.
	require.NoError(t, issuer.CheckValueCredentials(req, 100_000))

	creds, err := issuer.IssueValueCredentials(req, 100_000)
	require.NoError(t, err)
	require.Error(t, issuer.CheckValueCredentials(req, 100_000))

	total, err := issuer.CheckPresentedCredentials(creds)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), total)

	total, err = issuer.VerifyPresentedCredentials(creds)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), total)

	_, err = issuer.CheckPresentedCredentials(creds)
	require.Error(t, err)
}

func TestConsumeThenIssue(t *testing.T) {
	issuer := newIssuer(t, nil)
	zero := zeroCredentials(t, issuer)
	req := credentials.NewCredentialRequest(
		roundId, ports.CredentialKindAmount, zero, []int64{70_000, 30_000},
	)
	require.NoError(t, issuer.CheckValueCredentials(req, 100_000))

	require.NoError(t, issuer.ConsumeCredentials(zero))
	require.Error(t, issuer.ConsumeCredentials(zero))
	require.Error(t, issuer.CheckValueCredentials(req, 100_000))

	creds, err := issuer.IssueCredentials(req)
	require.NoError(t, err)
	total, err := issuer.CheckPresentedCredentials(creds)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), total)

	// A partially spent presentation consumes nothing.
	other := zeroCredentials(t, issuer)
	require.Error(t, issuer.ConsumeCredentials([]ports.Credential{other[0], zero[1]}))
	require.NoError(t, issuer.ConsumeCredentials(other))

	_, err = issuer.IssueCredentials(credentials.NewCredentialRequest(
		"other", ports.CredentialKindAmount, nil, []int64{1, 0},
	))
	require.Error(t, err)
}

func TestIssuanceDoesNotEchoPresentedCredentials(t *testing.T) {
	issuer := newIssuer(t, nil)
	zero := zeroCredentials(t, issuer)

	creds, err := issuer.IssueValueCredentials(credentials.NewCredentialRequest(
		roundId, ports.CredentialKindAmount, zero, []int64{50_000, 50_000},
	), 100_000)
	require.NoError(t, err)
	require.Len(t, creds, ports.NumCredentials)

	serials := make(map[string]struct{})
	for _, c := range creds {
		for _, p := range zero {
			require.NotEqual(t, p.Serial, c.Serial)
			require.NotEqual(t, p.Signature, c.Signature)
		}
		serials[string(c.Serial)] = struct{}{}
	}
	// Equal values still get distinct serials.
	require.Len(t, serials, ports.NumCredentials)
}

func TestNewConservationPolicy(t *testing.T) {
	policy, err := credentials.NewConservationPolicy("", 0)
	require.NoError(t, err)
	require.Equal(t, "exact", policy.String())

	policy, err = credentials.NewConservationPolicy("bounded", 500)
	require.NoError(t, err)
	require.Equal(t, "bounded(500)", policy.String())

	_, err = credentials.NewConservationPolicy("bounded", -1)
	require.Error(t, err)
	_, err = credentials.NewConservationPolicy("loose", 0)
	require.Error(t, err)
}
