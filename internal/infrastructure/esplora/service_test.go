package esplora

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testTx(t *testing.T) (*wire.MsgTx, string) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(50_000, []byte{0x00, 0x14}))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return tx, hex.EncodeToString(buf.Bytes())
}

func TestService(t *testing.T) {
	tx, txhex := testTx(t)
	txid := tx.TxHash().String()

	var txRequests, flaky atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/"+txid+"/hex", func(w http.ResponseWriter, r *http.Request) {
		txRequests.Add(1)
		_, _ = w.Write([]byte(txhex))
	})
	mux.HandleFunc("/tx/"+txid+"/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confirmed":false}`))
	})
	mux.HandleFunc("/tx/"+txid+"/outspend/0", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"spent":true,"txid":"spender","vin":0}`))
	})
	mux.HandleFunc("/tx/"+txid+"/outspend/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"spent":false}`))
	})
	mux.HandleFunc("/fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"1":20.5,"3":12.1,"6":5.2,"144":0.5}`))
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != txhex {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("sendrawtransaction RPC error: bad-txns"))
			return
		}
		_, _ = w.Write([]byte(txid))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc, err := NewService(
		server.URL, WithMaxRetries(2), WithCacheSize(10),
		WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	require.NoError(t, err)
	ctx := t.Context()

	t.Run("get transaction", func(t *testing.T) {
		got, err := svc.GetTransaction(ctx, txid)
		require.NoError(t, err)
		require.Equal(t, txid, got.TxHash().String())

		// Served from cache.
		_, err = svc.GetTransaction(ctx, txid)
		require.NoError(t, err)
		require.Equal(t, int32(1), txRequests.Load())

		_, err = svc.GetTransaction(ctx, strings.Repeat("ab", 32))
		require.Error(t, err)
	})

	t.Run("mempool", func(t *testing.T) {
		found, err := svc.IsTxInMempool(ctx, txid)
		require.NoError(t, err)
		require.True(t, found)

		found, err = svc.IsTxInMempool(ctx, strings.Repeat("ab", 32))
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("outpoint spender", func(t *testing.T) {
		spender, spent, err := svc.GetOutpointSpender(ctx, domain.Outpoint{Txid: txid, VOut: 0})
		require.NoError(t, err)
		require.True(t, spent)
		require.Equal(t, "spender", spender)

		_, spent, err = svc.GetOutpointSpender(ctx, domain.Outpoint{Txid: txid, VOut: 1})
		require.NoError(t, err)
		require.False(t, spent)
	})

	t.Run("fee rate", func(t *testing.T) {
		rate, err := svc.GetFeeRate(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(5200), rate)
		require.Equal(t, int32(2), flaky.Load())
	})

	t.Run("broadcast", func(t *testing.T) {
		got, err := svc.BroadcastTransaction(ctx, txhex)
		require.NoError(t, err)
		require.Equal(t, txid, got)

		_, err = svc.BroadcastTransaction(ctx, "00")
		require.ErrorContains(t, err, "bad-txns")
	})
}

func TestPickEstimate(t *testing.T) {
	testCases := []struct {
		description string
		estimates   map[string]float64
		target      int
		expected    float64
		found       bool
	}{
		{"exact target", map[string]float64{"1": 10, "6": 4}, 6, 4, true},
		{"closest lower target", map[string]float64{"1": 10, "5": 6, "10": 3}, 6, 6, true},
		{"only higher targets", map[string]float64{"12": 2, "24": 1}, 6, 2, true},
		{"empty", map[string]float64{}, 6, 0, false},
	}
	for _, tt := range testCases {
		t.Run(tt.description, func(t *testing.T) {
			got, ok := pickEstimate(tt.estimates, tt.target)
			require.Equal(t, tt.found, ok)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestNewServiceInvalid(t *testing.T) {
	_, err := NewService("")
	require.Error(t, err)

	_, err = NewService("http://localhost", WithCacheSize(0))
	require.Error(t, err)
}
