package warden

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type brokenLedger struct{}

func (brokenLedger) Write([]byte) (int, error) { return 0, fmt.Errorf("no space left on device") }
func (brokenLedger) Sync() error { return nil }
func (brokenLedger) Close() error { return nil }

type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) Publish(ctx context.Context, topic ports.Topic, message any) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}

func TestLedgerWriteFailureIsReported(t *testing.T) {
	alerts := &mockAlerts{}
	alerts.On("Publish", mock.Anything, ports.LedgerWriteFailed, mock.Anything).Return(nil)

	svc, err := NewService(t.TempDir(), nil, nil, WithAlerts(alerts))
	require.NoError(t, err)
	s := svc.(*service)
	s.lock.Lock()
	s.run(brokenLedger{})
	s.lock.Unlock()

	bannedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	offender := domain.NewOffender(
		domain.Outpoint{Txid: fmt.Sprintf("%064x", 1)}, bannedAt,
		domain.Cheating{RoundId: "round"},
	)
	require.True(t, s.Punish(offender))
	s.Stop()

	alerts.AssertCalled(t, "Publish", mock.Anything, ports.LedgerWriteFailed,
		mock.MatchedBy(func(alert ports.LedgerWriteFailedAlert) bool {
			return alert.OffenderId == offender.Id &&
				alert.Error == "failed to append to ledger: no space left on device"
		}),
	)

	// The ban still holds for the lifetime of the process.
	_, ok := s.IsBanned(offender.Outpoint, bannedAt)
	require.True(t, ok)
}
