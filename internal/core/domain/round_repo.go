package domain

import "context"

type EventRepository interface {
	Save(ctx context.Context, topic, id string, events []Event) error
	RegisterEventsHandler(topic string, handler func(events []Event))
	ClearRegisteredHandlers(topics ...string)
	Close()
}

// RoundRepository stores the projection of round events, used for history
// lookups once a round left memory.
type RoundRepository interface {
	AddOrUpdateRound(ctx context.Context, round Round) error
	GetRoundWithId(ctx context.Context, id string) (*Round, error)
	GetRoundIds(ctx context.Context, startedAfter, startedBefore int64) ([]string, error)
	Close()
}
