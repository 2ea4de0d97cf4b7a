package timescheduler

import (
	"fmt"
	"time"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleEvery(period time.Duration, task func()) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	_, err := s.scheduler.Every(period).WaitForSchedule().SingletonMode().Do(task)
	return err
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		go task()
		return nil
	}

	_, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}
