package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/admin/rounds":
			// nolint:errcheck
			w.Write([]byte(`{"round_ids":["a","b"]}`))
		case "/v1/admin/txs/abc":
			// nolint:errcheck
			w.Write([]byte(`{"txid":"abc","raw_tx":"0200","created_at":1700000000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			// nolint:errcheck
			w.Write([]byte(`{"name":"ROUND_NOT_FOUND"}`))
		}
	}))
	t.Cleanup(srv.Close)

	roundIds, err := get[[]string](srv.URL+"/v1/admin/rounds", "round_ids", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, roundIds)

	tx, err := get[map[string]any](srv.URL+"/v1/admin/txs/abc", "", nil)
	require.NoError(t, err)
	require.Equal(t, "0200", tx["raw_tx"])

	_, err = get[map[string]any](srv.URL+"/v1/admin/rounds/x/history", "", nil)
	require.ErrorContains(t, err, "ROUND_NOT_FOUND")
}
