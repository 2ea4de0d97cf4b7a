package alertsmanager

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	t.Run("round succeeded", func(t *testing.T) {
		var received []Alert
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		svc := NewService(server.URL, "https://mempool.space")
		err := svc.Publish(t.Context(), ports.RoundSucceeded, ports.RoundSucceededAlert{
			RoundId:     "round",
			Txid:        "txid",
			InputCount:  5,
			OutputCount: 7,
			TotalAmount: 150_000_000,
			MiningFee:   1200,
		})
		require.NoError(t, err)
		require.Len(t, received, 1)
		require.Equal(t, "round", received[0].Labels["round_id"])
		require.Equal(t, string(ports.RoundSucceeded), received[0].Labels["alertname"])
		require.Contains(t, received[0].Annotations["description"], "https://mempool.space/tx/txid")
		require.Contains(t, received[0].Annotations["description"], "1.5 BTC")
	})

	t.Run("wrong message type", func(t *testing.T) {
		svc := NewService("http://127.0.0.1:0", "")
		err := svc.Publish(t.Context(), ports.RoundFailed, "oops")
		require.Error(t, err)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		svc := NewService(server.URL, "")
		err := svc.Publish(t.Context(), ports.InputBanned, ports.InputBannedAlert{
			Outpoint: "txid:0",
			Reason:   "cheating",
		})
		require.NoError(t, err)
		require.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		svc := NewService(server.URL, "")
		err := svc.Publish(t.Context(), ports.RoundFailed, ports.RoundFailedAlert{RoundId: "round"})
		require.Error(t, err)
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestFormatBTC(t *testing.T) {
	require.Equal(t, "0 BTC", formatBTC(0))
	require.Equal(t, "1 BTC", formatBTC(100_000_000))
	require.Equal(t, "0.00001 BTC", formatBTC(1000))
	require.Equal(t, "2.5 BTC", formatBTC(250_000_000))
}
