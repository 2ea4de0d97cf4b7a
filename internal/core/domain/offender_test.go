package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestOffender(t *testing.T) {
	outpoint := domain.Outpoint{Txid: fmt.Sprintf("%064x", 1), VOut: 3}
	durations := domain.BanDurations{
		domain.ReasonKindDidNotSign: time.Hour,
	}

	t.Run("ban window", func(t *testing.T) {
		offender := domain.NewOffender(outpoint, now, domain.RoundDisruption{
			RoundIds: []string{"a"}, Amount: 1000, Method: domain.DisruptionMethodDidNotSign,
		})
		require.Equal(t, domain.ReasonKindDidNotSign, offender.Reason.Kind())
		require.True(t, offender.IsActive(now, durations))
		require.True(t, offender.IsActive(now.Add(59*time.Minute), durations))
		require.False(t, offender.IsActive(now.Add(time.Hour), durations))
		require.False(t, offender.IsActive(now.Add(-time.Second), durations))
	})

	t.Run("unset duration falls back to default", func(t *testing.T) {
		offender := domain.NewOffender(outpoint, now, domain.Cheating{RoundId: "a"})
		require.Equal(
			t, now.Add(domain.DefaultBanDurations[domain.ReasonKindCheating]),
			offender.BannedUntil(durations),
		)
	})

	t.Run("json keeps the reason variant", func(t *testing.T) {
		reasons := []domain.Reason{
			domain.Cheating{RoundId: "r1"},
			domain.FailedToVerify{RoundId: "r2"},
			domain.RoundDisruption{
				RoundIds: []string{"r3", "r4"}, Amount: 5000,
				Method: domain.DisruptionMethodDoubleSpent,
			},
			domain.Inherited{Ancestors: []domain.Outpoint{outpoint}},
		}
		for _, reason := range reasons {
			offender := domain.NewOffender(outpoint, now, reason)
			buf, err := json.Marshal(offender)
			require.NoError(t, err)

			var decoded domain.Offender
			require.NoError(t, json.Unmarshal(buf, &decoded))
			require.Equal(t, offender.Id, decoded.Id)
			require.Equal(t, offender.Outpoint, decoded.Outpoint)
			require.True(t, offender.BannedAt.Equal(decoded.BannedAt))
			require.Equal(t, reason, decoded.Reason)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		var decoded domain.Offender
		require.Error(t, json.Unmarshal([]byte(`{"id":"x","outpoint":"bad"}`), &decoded))
		require.Error(t, json.Unmarshal([]byte(`{"id":"x","outpoint":"`+outpoint.String()+
			`","bannedAt":1,"type":"Unknown","reason":{}}`), &decoded))
	})
}
