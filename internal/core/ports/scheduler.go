package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleEvery runs the task at a fixed period. A run never overlaps the
	// previous one.
	ScheduleEvery(period time.Duration, task func()) error
	ScheduleTaskOnce(at time.Time, task func()) error
}
