package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/sethvargo/go-retry"
)

const (
	serviceName = "cjd"
	severity    = "info"

	maxRetries = 5
	baseDelay  = 100 * time.Millisecond
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl    string
	esploraUrl string
	httpClient *http.Client
}

func NewService(alertManagerURL, esploraURL string) ports.Alerts {
	return &service{
		baseUrl:    alertManagerURL,
		esploraUrl: esploraURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  severity,
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.RoundSucceeded:
		annotations["firing_title"] = "🎯 Round Succeeded"
		m, ok := message.(ports.RoundSucceededAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatRoundSucceededAlert(s.esploraUrl, m)
		labels["round_id"] = m.RoundId
		labels["txid"] = m.Txid
	case ports.RoundFailed:
		annotations["firing_title"] = "⚠️ Round Failed"
		m, ok := message.(ports.RoundFailedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatRoundFailedAlert(m)
		labels["round_id"] = m.RoundId
		labels["severity"] = "warning"
	case ports.InputBanned:
		annotations["firing_title"] = "⛔ Input Banned"
		m, ok := message.(ports.InputBannedAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatGenericAlert(map[string]any{
			"outpoint":     m.Outpoint,
			"reason":       m.Reason,
			"banned_until": m.BannedUntil,
		})
		labels["outpoint"] = m.Outpoint
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal([]Alert{alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	// exponential: 100ms, 200ms, 400ms, 800ms
	backoff := retry.WithMaxRetries(maxRetries-1, exponential(baseDelay))

	attempts := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, "POST", s.baseUrl, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(
				fmt.Errorf("failed to send alert after %d attempts: %w", attempts, err),
			)
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		err = fmt.Errorf(
			"failed to send alert to AlertManager with status %d after %d attempts",
			resp.StatusCode, attempts,
		)
		// Retry on 5xx (server errors), but not on 4xx (client errors)
		if resp.StatusCode >= 500 {
			return retry.RetryableError(err)
		}
		return err
	})
}

func exponential(base time.Duration) retry.Backoff {
	next := base
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := next
		next *= 2
		return delay, false
	})
}

func formatRoundSucceededAlert(esploraUrl string, data ports.RoundSucceededAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("%s/tx/%s", esploraUrl, data.Txid))
	lines = append(lines, fmt.Sprintf("\n*ID:* `%s`", data.RoundId))
	if data.IsBlameRound {
		lines = append(lines, "*Blame round*")
	}

	lines = append(lines, "\n*Breakdown:*")
	lines = append(lines, fmt.Sprintf("• Duration: %s", data.Duration))
	lines = append(lines, fmt.Sprintf("• Inputs: %d", data.InputCount))
	lines = append(lines, fmt.Sprintf("• Outputs: %d", data.OutputCount))
	lines = append(lines, fmt.Sprintf("• Total amount: %s", formatBTC(data.TotalAmount)))
	lines = append(lines, fmt.Sprintf("• Mining fees: %d sats", data.MiningFee))
	return strings.Join(lines, "\n")
}

func formatRoundFailedAlert(data ports.RoundFailedAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*ID:* `%s`", data.RoundId))
	lines = append(lines, fmt.Sprintf("• State: %s", data.EndRoundState))
	lines = append(lines, fmt.Sprintf("• Phase: %s", data.Phase))
	lines = append(lines, fmt.Sprintf("• Inputs: %d", data.InputCount))
	if data.Reason != "" {
		lines = append(lines, fmt.Sprintf("• Reason: %s", data.Reason))
	}
	if data.BlameRoundId != "" {
		lines = append(lines, fmt.Sprintf("• Blame round: `%s`", data.BlameRoundId))
	}
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	lines := make([]string, 0)
	for key, value := range data {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, value))
	}
	return strings.Join(lines, "\n")
}

func formatBTC(sats int64) string {
	const satsPerBTC = 100_000_000

	whole := sats / satsPerBTC
	frac := sats % satsPerBTC

	if frac == 0 {
		return fmt.Sprintf("%d BTC", whole)
	}

	// Format fractional part as 8-digit zero-padded
	f := fmt.Sprintf("%08d", frac)

	// Trim trailing zeros
	f = strings.TrimRight(f, "0")

	return fmt.Sprintf("%d.%s BTC", whole, f)
}
