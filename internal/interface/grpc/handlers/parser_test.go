package handlers

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseRoundId(t *testing.T) {
	fixtures := []struct {
		description string
		id          string
		expectedErr string
	}{
		{"valid", fmt.Sprintf("%064x", 1), ""},
		{"missing", "", "missing round id"},
		{"not hex", "round", "expected hex"},
		{"too short", "abcd", "invalid round id length"},
	}
	for _, f := range fixtures {
		t.Run(f.description, func(t *testing.T) {
			id, err := parseRoundId(f.id)
			if f.expectedErr != "" {
				require.ErrorContains(t, err, f.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, f.id, id)
		})
	}
}

func TestParseOutpoint(t *testing.T) {
	txid := fmt.Sprintf("%064x", 7)

	outpoint, err := parseOutpoint(txid + ":3")
	require.NoError(t, err)
	require.Equal(t, txid, outpoint.Txid)
	require.Equal(t, uint32(3), outpoint.VOut)

	for _, invalid := range []string{"", txid, "abc:0", txid + ":x"} {
		_, err := parseOutpoint(invalid)
		require.Error(t, err, invalid)
	}
}

func TestParseAliceId(t *testing.T) {
	id := uuid.New().String()
	parsed, err := parseAliceId(id)
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = parseAliceId("alice")
	require.Error(t, err)
	_, err = parseAliceId("")
	require.ErrorContains(t, err, "missing alice id")
}

func TestParseWitness(t *testing.T) {
	witness, err := parseWitness([]string{"", "00ff"})
	require.NoError(t, err)
	require.Len(t, witness, 2)
	require.Empty(t, witness[0])
	require.Equal(t, []byte{0x00, 0xff}, witness[1])

	_, err = parseWitness(nil)
	require.ErrorContains(t, err, "missing witness")
	_, err = parseWitness([]string{"zz"})
	require.ErrorContains(t, err, "invalid witness item 0")
}

func TestParseTimestamp(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/admin/rounds?after=10&before=-1", nil)

	after, err := parseTimestamp(r, "after")
	require.NoError(t, err)
	require.Equal(t, int64(10), after)

	_, err = parseTimestamp(r, "before")
	require.Error(t, err)

	unset, err := parseTimestamp(r, "until")
	require.NoError(t, err)
	require.Zero(t, unset)
}
