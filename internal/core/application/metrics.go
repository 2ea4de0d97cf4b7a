package application

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/arkade-os/cjd/arena"

// arenaMetrics are no-ops until a meter provider is registered globally.
type arenaMetrics struct {
	roundsStarted metric.Int64Counter
	roundsEnded   metric.Int64Counter
	inputs        metric.Int64Counter
	bans          metric.Int64Counter
	tickDuration  metric.Float64Histogram
}

func newArenaMetrics() *arenaMetrics {
	meter := otel.Meter(meterName)
	m := &arenaMetrics{}

	var err error
	if m.roundsStarted, err = meter.Int64Counter(
		"cjd.rounds.started", metric.WithDescription("rounds created"),
	); err != nil {
		log.WithError(err).Warn("failed to create rounds started counter")
	}
	if m.roundsEnded, err = meter.Int64Counter(
		"cjd.rounds.ended", metric.WithDescription("rounds ended, by end state"),
	); err != nil {
		log.WithError(err).Warn("failed to create rounds ended counter")
	}
	if m.inputs, err = meter.Int64Counter(
		"cjd.inputs.registered", metric.WithDescription("inputs admitted in a round"),
	); err != nil {
		log.WithError(err).Warn("failed to create inputs counter")
	}
	if m.bans, err = meter.Int64Counter(
		"cjd.bans", metric.WithDescription("ledger entries recorded, by reason"),
	); err != nil {
		log.WithError(err).Warn("failed to create bans counter")
	}
	if m.tickDuration, err = meter.Float64Histogram(
		"cjd.tick.duration", metric.WithUnit("s"),
		metric.WithDescription("time spent processing all rounds in one tick"),
	); err != nil {
		log.WithError(err).Warn("failed to create tick duration histogram")
	}
	return m
}

func (m *arenaMetrics) roundStarted(isBlameRound bool) {
	if m.roundsStarted == nil {
		return
	}
	m.roundsStarted.Add(
		context.Background(), 1,
		metric.WithAttributes(attribute.Bool("blame", isBlameRound)),
	)
}

func (m *arenaMetrics) roundEnded(state string) {
	if m.roundsEnded == nil {
		return
	}
	m.roundsEnded.Add(
		context.Background(), 1, metric.WithAttributes(attribute.String("state", state)),
	)
}

func (m *arenaMetrics) inputRegistered() {
	if m.inputs == nil {
		return
	}
	m.inputs.Add(context.Background(), 1)
}

func (m *arenaMetrics) inputBanned(kind string) {
	if m.bans == nil {
		return
	}
	m.bans.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", kind)))
}

func (m *arenaMetrics) tickProcessed(seconds float64) {
	if m.tickDuration == nil {
		return
	}
	m.tickDuration.Record(context.Background(), seconds)
}
