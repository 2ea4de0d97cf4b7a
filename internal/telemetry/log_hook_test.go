package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type recordingLogger struct {
	embedded.Logger
	records []otellog.Record
}

func (l *recordingLogger) Emit(_ context.Context, record otellog.Record) {
	l.records = append(l.records, record.Clone())
}

func (l *recordingLogger) Enabled(context.Context, otellog.EnabledParameters) bool {
	return true
}

func TestLogHook(t *testing.T) {
	logger := &recordingLogger{}
	hook := newLogHook(logger)

	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Time:    time.Unix(1700000000, 0),
		Level:   logrus.WarnLevel,
		Message: "round failed",
		Data: logrus.Fields{
			"round": "ab",
			"error": errors.New("boom"),
		},
	}
	require.NoError(t, hook.Fire(entry))
	require.Len(t, logger.records, 1)

	record := logger.records[0]
	require.Equal(t, "round failed", record.Body().AsString())
	require.Equal(t, otellog.SeverityWarn, record.Severity())
	require.Equal(t, entry.Time, record.Timestamp())

	attrs := make(map[string]string)
	record.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	require.Equal(t, map[string]string{"round": "ab", "error": "boom"}, attrs)
}

func TestSeverity(t *testing.T) {
	fixtures := []struct {
		level    logrus.Level
		expected otellog.Severity
	}{
		{logrus.TraceLevel, otellog.SeverityTrace},
		{logrus.DebugLevel, otellog.SeverityDebug},
		{logrus.InfoLevel, otellog.SeverityInfo},
		{logrus.ErrorLevel, otellog.SeverityError},
		{logrus.FatalLevel, otellog.SeverityFatal},
	}
	for _, f := range fixtures {
		require.Equal(t, f.expected, severity(f.level), f.level.String())
	}
}
