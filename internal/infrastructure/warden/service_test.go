package warden_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/arkade-os/cjd/internal/infrastructure/warden"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func outpoint(i int) domain.Outpoint {
	return domain.Outpoint{Txid: fmt.Sprintf("%064x", i), VOut: uint32(i)}
}

func newWarden(t *testing.T, datadir string) ports.Warden {
	w, err := warden.NewService(datadir, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	return w
}

func ledgerLines(t *testing.T, datadir string) []string {
	buf, err := os.ReadFile(filepath.Join(datadir, "prison", "offenders.jsonl"))
	require.NoError(t, err)
	lines := make([]string, 0)
	for _, line := range strings.Split(string(buf), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestPunish(t *testing.T) {
	datadir := t.TempDir()
	w := newWarden(t, datadir)

	offender := domain.NewOffender(outpoint(1), now, domain.RoundDisruption{
		RoundIds: []string{"round"},
		Amount:   10_000,
		Method:   domain.DisruptionMethodDidNotConfirm,
	})
	require.True(t, w.Punish(offender))

	again := domain.NewOffender(outpoint(1), now.Add(time.Minute), offender.Reason)
	require.False(t, w.Punish(again))

	// a different kind is recorded
	require.True(t, w.Punish(
		domain.NewOffender(outpoint(1), now, domain.Cheating{RoundId: "round"}),
	))

	banned, ok := w.IsBanned(outpoint(1), now.Add(time.Hour))
	require.True(t, ok)
	require.Equal(t, domain.ReasonKindCheating, banned.Reason.Kind())

	_, ok = w.IsBanned(outpoint(2), now)
	require.False(t, ok)

	w.Stop()
	require.Len(t, ledgerLines(t, datadir), 2)
}

func TestBanExpiry(t *testing.T) {
	w, err := warden.NewService(t.TempDir(), domain.BanDurations{
		domain.ReasonKindDidNotSign: time.Hour,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	reason := domain.RoundDisruption{
		RoundIds: []string{"round"}, Method: domain.DisruptionMethodDidNotSign,
	}
	require.True(t, w.Punish(domain.NewOffender(outpoint(1), now, reason)))

	_, ok := w.IsBanned(outpoint(1), now.Add(59*time.Minute))
	require.True(t, ok)
	_, ok = w.IsBanned(outpoint(1), now.Add(time.Hour))
	require.False(t, ok)

	// once expired the same kind can be recorded again
	require.True(t, w.Punish(domain.NewOffender(outpoint(1), now.Add(2*time.Hour), reason)))

	offenders, err := w.GetOffenders(t.Context(), nil)
	require.NoError(t, err)
	require.Len(t, offenders, 2)
}

func TestRestart(t *testing.T) {
	datadir := t.TempDir()
	w := newWarden(t, datadir)

	reasons := []domain.Reason{
		domain.Cheating{RoundId: "a"},
		domain.FailedToVerify{RoundId: "b"},
		domain.RoundDisruption{
			RoundIds: []string{"c", "d"}, Amount: 5000, Method: domain.DisruptionMethodDoubleSpent,
		},
		domain.Inherited{Ancestors: []domain.Outpoint{outpoint(9)}},
	}
	for i, reason := range reasons {
		require.True(t, w.Punish(domain.NewOffender(outpoint(i), now, reason)))
	}
	w.Stop()

	// a torn write at the end of the ledger and a garbage line
	ledger := filepath.Join(datadir, "prison", "offenders.jsonl")
	f, err := os.OpenFile(ledger, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n{\"id\":\"x\",\"outpoint\":")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	restarted := newWarden(t, datadir)

	checkpoints := []time.Time{
		now, now.Add(time.Hour), now.Add(48 * time.Hour), now.Add(400 * 24 * time.Hour),
	}
	for i := range reasons {
		for _, at := range checkpoints {
			expected, expectedOk := w.IsBanned(outpoint(i), at)
			got, gotOk := restarted.IsBanned(outpoint(i), at)
			require.Equal(t, expectedOk, gotOk)
			if expectedOk {
				require.Equal(t, expected.Id, got.Id)
				require.Equal(t, expected.Reason, got.Reason)
			}
		}
	}

	// appends after a torn line land on their own line
	require.True(t, restarted.Punish(
		domain.NewOffender(outpoint(7), now, domain.Cheating{RoundId: "e"}),
	))
	restarted.Stop()

	again := newWarden(t, datadir)
	defer again.Stop()
	_, ok := again.IsBanned(outpoint(7), now)
	require.True(t, ok)
}

// stalledRepo blocks every Add until released.
type stalledRepo struct {
	domain.OffenderRepository
	release chan struct{}
}

func (r *stalledRepo) Add(ctx context.Context, _ ...domain.Offender) error {
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

func TestPunishDoesNotWaitForStorage(t *testing.T) {
	datadir := t.TempDir()
	repo := &stalledRepo{release: make(chan struct{})}
	w, err := warden.NewService(datadir, nil, repo)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	count := 3000
	punished := make(chan struct{})
	go func() {
		defer close(punished)
		for i := 0; i < count; i++ {
			w.Punish(domain.NewOffender(outpoint(i), now, domain.Cheating{RoundId: "round"}))
		}
	}()

	select {
	case <-punished:
	case <-time.After(10 * time.Second):
		require.FailNow(t, "punish blocked on a stalled repository")
	}
	_, ok := w.IsBanned(outpoint(count-1), now)
	require.True(t, ok)

	close(repo.release)
	w.Stop()
	require.Len(t, ledgerLines(t, datadir), count)
}

func TestGetOffendersUsesClock(t *testing.T) {
	repo := &recordingRepo{}
	testClock := clock.NewTestClock(now)
	w, err := warden.NewService(t.TempDir(), nil, repo, warden.WithClock(testClock))
	require.NoError(t, err)

	_, err = w.GetOffenders(t.Context(), nil)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour), repo.to)
}

type recordingRepo struct {
	domain.OffenderRepository
	to time.Time
}

func (r *recordingRepo) GetAll(_ context.Context, _, to time.Time) ([]domain.Offender, error) {
	r.to = to
	return nil, nil
}
