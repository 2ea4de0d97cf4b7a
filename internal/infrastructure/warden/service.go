package warden

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/gammazero/deque"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	prisonDir      = "prison"
	ledgerFilename = "offenders.jsonl"
	maxLineSize    = 1024 * 1024
	alertTimeout   = 5 * time.Second
	meterName      = "github.com/arkade-os/cjd/warden"
)

type Option func(*service)

func WithClock(c clock.Clock) Option {
	return func(s *service) {
		s.clock = c
	}
}

// WithAlerts makes the warden report entries it failed to persist.
func WithAlerts(alerts ports.Alerts) Option {
	return func(s *service) {
		s.alerts = alerts
	}
}

type ledgerFile interface {
	io.WriteCloser
	Sync() error
}

type service struct {
	ledgerPath string
	durations  domain.BanDurations
	repo       domain.OffenderRepository
	clock      clock.Clock
	alerts     ports.Alerts
	failures   metric.Int64Counter

	lock      *sync.RWMutex
	offenders map[domain.Outpoint][]domain.Offender
	running   bool

	// pending is unbounded so that Punish never waits for the disk.
	pendingLock *sync.Mutex
	pending     *deque.Deque
	closing     bool
	wake        chan struct{}
	done        chan struct{}
}

// NewService returns a warden keeping its ledger under <datadir>/prison. The
// optional repository mirrors every entry for queries.
func NewService(
	datadir string, durations domain.BanDurations, repo domain.OffenderRepository,
	opts ...Option,
) (ports.Warden, error) {
	if durations == nil {
		durations = domain.DefaultBanDurations
	}
	dir := filepath.Join(datadir, prisonDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prison dir: %s", err)
	}

	failures, err := otel.Meter(meterName).Int64Counter(
		"cjd.warden.ledger_failures",
		metric.WithDescription("ban ledger entries that could not be persisted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger failures counter: %s", err)
	}

	svc := &service{
		ledgerPath:  filepath.Join(dir, ledgerFilename),
		durations:   durations,
		repo:        repo,
		clock:       clock.NewDefaultClock(),
		failures:    failures,
		lock:        &sync.RWMutex{},
		offenders:   make(map[domain.Outpoint][]domain.Offender),
		pendingLock: &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.running {
		return fmt.Errorf("warden already started")
	}

	offenders, err := s.replay()
	if err != nil {
		return err
	}
	s.offenders = make(map[domain.Outpoint][]domain.Offender)
	for _, offender := range offenders {
		s.offenders[offender.Outpoint] = append(s.offenders[offender.Outpoint], offender)
	}
	if s.repo != nil && len(offenders) > 0 {
		if err := s.repo.Add(context.Background(), offenders...); err != nil {
			log.WithError(err).Warn("failed to index prison ledger")
		}
	}

	file, err := os.OpenFile(s.ledgerPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open prison ledger: %s", err)
	}

	s.run(file)

	log.Infof("warden started with %d offenders on record", len(offenders))
	return nil
}

// run spawns the ledger writer. The lock must be held.
func (s *service) run(file ledgerFile) {
	s.pendingLock.Lock()
	s.pending = deque.New()
	s.closing = false
	s.pendingLock.Unlock()

	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.running = true
	go s.write(file, s.wake, s.done)
}

func (s *service) Stop() {
	s.lock.Lock()
	if !s.running {
		s.lock.Unlock()
		return
	}
	s.running = false
	s.pendingLock.Lock()
	s.closing = true
	s.pendingLock.Unlock()
	s.notify()
	done := s.done
	s.lock.Unlock()

	<-done
	log.Info("warden stopped")
}

func (s *service) IsBanned(outpoint domain.Outpoint, now time.Time) (*domain.Offender, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var found *domain.Offender
	for _, offender := range s.offenders[outpoint] {
		if !offender.IsActive(now, s.durations) {
			continue
		}
		if found == nil ||
			offender.BannedUntil(s.durations).After(found.BannedUntil(s.durations)) {
			offender := offender
			found = &offender
		}
	}
	return found, found != nil
}

func (s *service) Punish(offender domain.Offender) bool {
	s.lock.Lock()
	if !s.running {
		s.lock.Unlock()
		log.Warnf("warden not running, dropped ban of %s", offender.Outpoint)
		return false
	}
	for _, existing := range s.offenders[offender.Outpoint] {
		if existing.Reason.Kind() == offender.Reason.Kind() &&
			existing.IsActive(offender.BannedAt, s.durations) {
			s.lock.Unlock()
			return false
		}
	}
	s.offenders[offender.Outpoint] = append(s.offenders[offender.Outpoint], offender)
	// Enqueuing with the lock held keeps the ledger in the same order as memory.
	s.pendingLock.Lock()
	s.pending.PushBack(offender)
	s.pendingLock.Unlock()
	s.notify()
	s.lock.Unlock()

	log.WithField("outpoint", offender.Outpoint.String()).Infof(
		"banned until %s: %s",
		offender.BannedUntil(s.durations).Format(time.RFC3339), offender.Reason,
	)
	return true
}

func (s *service) BanDurations() domain.BanDurations {
	return s.durations
}

func (s *service) GetOffenders(
	ctx context.Context, outpoint *domain.Outpoint,
) ([]domain.Offender, error) {
	if s.repo != nil {
		if outpoint != nil {
			return s.repo.GetByOutpoint(ctx, *outpoint)
		}
		return s.repo.GetAll(ctx, time.Unix(0, 0), s.clock.Now().Add(time.Hour))
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	offenders := make([]domain.Offender, 0)
	if outpoint != nil {
		offenders = append(offenders, s.offenders[*outpoint]...)
	} else {
		for _, list := range s.offenders {
			offenders = append(offenders, list...)
		}
	}
	sort.SliceStable(offenders, func(i, j int) bool {
		return offenders[i].BannedAt.Before(offenders[j].BannedAt)
	})
	return offenders, nil
}

func (s *service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest pending entry. closed is true once the queue is
// drained and the warden is stopping.
func (s *service) next() (offender domain.Offender, ok, closed bool) {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()

	if s.pending.Len() <= 0 {
		return domain.Offender{}, false, s.closing
	}
	return s.pending.PopFront().(domain.Offender), true, false
}

func (s *service) write(file ledgerFile, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		// nolint:all
		file.Close()
	}()

	for {
		offender, ok, closed := s.next()
		if closed {
			return
		}
		if !ok {
			<-wake
			continue
		}
		s.append(file, offender)
	}
}

func (s *service) append(file ledgerFile, offender domain.Offender) {
	buf, err := json.Marshal(offender)
	if err != nil {
		s.reportFailure(offender, fmt.Errorf("failed to encode offender: %s", err))
		return
	}
	if _, err := file.Write(append(buf, '\n')); err != nil {
		s.reportFailure(offender, fmt.Errorf("failed to append to ledger: %s", err))
		return
	}
	if err := file.Sync(); err != nil {
		s.reportFailure(offender, fmt.Errorf("failed to sync ledger: %s", err))
	}

	if s.repo != nil {
		if err := s.repo.Add(context.Background(), offender); err != nil {
			log.WithError(err).Warnf("failed to index offender %s", offender.Id)
		}
	}
}

// reportFailure surfaces an entry that is banned in memory but may not
// survive a restart.
func (s *service) reportFailure(offender domain.Offender, err error) {
	log.WithError(err).WithField("outpoint", offender.Outpoint.String()).Errorf(
		"failed to persist offender %s", offender.Id,
	)
	s.failures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", string(offender.Reason.Kind())),
	))

	if s.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := s.alerts.Publish(ctx, ports.LedgerWriteFailed, ports.LedgerWriteFailedAlert{
		OffenderId: offender.Id,
		Outpoint:   offender.Outpoint.String(),
		Reason:     offender.Reason.String(),
		Error:      err.Error(),
	}); err != nil {
		log.WithError(err).Warn("failed to publish ledger failure alert")
	}
}

// replay loads the ledger skipping malformed lines. A truncated last line
// gets terminated so that later appends start on a fresh line.
func (s *service) replay() ([]domain.Offender, error) {
	file, err := os.OpenFile(s.ledgerPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open prison ledger: %s", err)
	}
	// nolint:all
	defer file.Close()

	offenders := make([]domain.Offender, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var offender domain.Offender
		if err := json.Unmarshal(line, &offender); err != nil {
			log.WithError(err).Warnf("skipping malformed prison ledger line %d", lineNum)
			continue
		}
		offenders = append(offenders, offender)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prison ledger: %s", err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat prison ledger: %s", err)
	}
	if info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read prison ledger: %s", err)
		}
		if last[0] != '\n' {
			if _, err := file.WriteAt([]byte{'\n'}, info.Size()); err != nil {
				return nil, fmt.Errorf("failed to repair prison ledger: %s", err)
			}
		}
	}

	return offenders, nil
}
