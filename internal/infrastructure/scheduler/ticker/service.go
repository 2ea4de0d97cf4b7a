package tickerscheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	log "github.com/sirupsen/logrus"
)

type Option func(*service)

// WithTickerInterval sets how often one-shot tasks are checked for due time.
func WithTickerInterval(interval time.Duration) Option {
	return func(s *service) {
		s.tickerInterval = interval
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *service) {
		s.clock = c
	}
}

type periodicTask struct {
	period time.Duration
	task   func()
}

type service struct {
	lock           sync.Locker
	tasks          map[int64][]func()
	periodic       []*periodicTask
	stopCh         chan struct{}
	wg             sync.WaitGroup
	tickerInterval time.Duration
	clock          clock.Clock
	started        bool
}

// NewScheduler returns a scheduler driven by in-process tickers. One-shot
// tasks are keyed by their due time in unix millis and fired by a polling
// loop.
func NewScheduler(opts ...Option) ports.SchedulerService {
	svc := &service{
		lock:           &sync.Mutex{},
		tasks:          make(map[int64][]func()),
		periodic:       make([]*periodicTask, 0),
		tickerInterval: 100 * time.Millisecond,
		clock:          clock.NewDefaultClock(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (s *service) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	for _, p := range s.periodic {
		s.runPeriodic(p, stopCh)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		t := ticker.New(s.tickerInterval)
		t.Resume()
		defer t.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-t.Ticks():
				tasks := s.popTasks()
				if len(tasks) > 0 {
					log.Debugf("fired %d scheduled tasks", len(tasks))
				}
				for _, task := range tasks {
					go task()
				}
			}
		}
	}()
}

func (s *service) Stop() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.lock.Unlock()

	s.wg.Wait()
}

func (s *service) ScheduleEvery(period time.Duration, task func()) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	p := &periodicTask{period: period, task: task}
	s.periodic = append(s.periodic, p)
	if s.started {
		s.runPeriodic(p, s.stopCh)
	}
	return nil
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := at.UnixMilli()
	if _, ok := s.tasks[key]; !ok {
		s.tasks[key] = make([]func(), 0)
	}

	s.tasks[key] = append(s.tasks[key], task)

	return nil
}

// runPeriodic must be called with the lock held. Runs of the same task are
// sequential: ticks elapsing during a run are dropped.
func (s *service) runPeriodic(p *periodicTask, stopCh chan struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		t := ticker.New(p.period)
		t.Resume()
		defer t.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-t.Ticks():
				p.task()
			}
		}
	}()
}

func (s *service) popTasks() []func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock.Now().UnixMilli()
	tasks := make([]func(), 0)

	for at, scheduled := range s.tasks {
		if at > now {
			continue
		}

		tasks = append(tasks, scheduled...)
		delete(s.tasks, at)
	}

	return tasks
}
