package watermilldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/arkade-os/cjd/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

type subscriber struct {
	topic   string
	handler func(events []domain.Event)
}

// eventLog returns the raw payloads published for an aggregate, in order.
type eventLog interface {
	prepare(topic string) error
	getAllRecords(ctx context.Context, topic, id string) ([][]byte, error)
}

type eventRepository struct {
	publisher message.Publisher
	log       eventLog

	subscribers    map[string][]subscriber // topic -> subscribers
	subscriberLock *sync.Mutex
}

// NewWatermillEventRepository returns an event store publishing to the
// watermill_<topic> tables of the given postgres db.
func NewWatermillEventRepository(publisher message.Publisher, db *sql.DB) domain.EventRepository {
	return &eventRepository{
		publisher:      publisher,
		log:            &sqlEventLog{db},
		subscribers:    make(map[string][]subscriber),
		subscriberLock: &sync.Mutex{},
	}
}

func NewPostgresEventRepository(config ...interface{}) (domain.EventRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid config, expected db at 0")
	}

	publisher, err := wmsql.NewPublisher(
		db,
		wmsql.PublisherConfig{
			SchemaAdapter:        wmsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %s", err)
	}
	return NewWatermillEventRepository(publisher, db), nil
}

// NewInMemoryEventRepository returns an event store backed by a go channel
// pubsub. History is lost on restart.
func NewInMemoryEventRepository(_ ...interface{}) (domain.EventRepository, error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            1024,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})

	return &eventRepository{
		publisher: pubsub,
		log: &memoryEventLog{
			pubsub:     pubsub,
			lock:       &sync.RWMutex{},
			records:    make(map[string]map[string][][]byte),
			subscribed: make(map[string]struct{}),
		},
		subscribers:    make(map[string][]subscriber),
		subscriberLock: &sync.Mutex{},
	}, nil
}

func (e *eventRepository) ClearRegisteredHandlers(topics ...string) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if len(topics) == 0 {
		e.subscribers = make(map[string][]subscriber)
		return
	}

	for _, topic := range topics {
		delete(e.subscribers, topic)
	}
}

func (e *eventRepository) Close() {
	//nolint:errcheck
	e.publisher.Close()
}

func (e *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if _, ok := e.subscribers[topic]; !ok {
		e.subscribers[topic] = make([]subscriber, 0)
	}

	e.subscribers[topic] = append(e.subscribers[topic], subscriber{
		topic:   topic,
		handler: handler,
	})
}

func (e *eventRepository) Save(
	ctx context.Context, topic string, id string, events []domain.Event,
) error {
	if len(events) == 0 {
		return nil
	}
	if err := e.log.prepare(topic); err != nil {
		return err
	}
	if err := e.publish(topic, events); err != nil {
		return err
	}
	// dispatch events to subscribers
	if err := e.dispatch(ctx, topic, id); err != nil {
		log.WithError(err).Error("failed to dispatch saved events")
	}

	return nil
}

func (e *eventRepository) dispatch(ctx context.Context, topic string, id string) error {
	events, err := e.getAllEvents(ctx, topic, id)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	// run the handlers in go routines
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()
	for _, subscriber := range e.subscribers[topic] {
		go subscriber.handler(events)
	}
	return nil
}

func (e *eventRepository) getAllEvents(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	records, err := e.log.getAllRecords(ctx, topic, id)
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		event, err := deserializeEvent(record)
		if err != nil {
			log.WithError(err).Warnf("failed to deserialize event: %s", string(record))
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (e *eventRepository) publish(topic string, events []domain.Event) error {
	watermillMessages := toWatermillMessages(events)
	return e.publisher.Publish(topic, watermillMessages...)
}

type sqlEventLog struct {
	db *sql.DB
}

func (l *sqlEventLog) prepare(string) error {
	if l.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return nil
}

// getAllRecords queries the database for all historical messages in a topic
// filtered by id. Watermill table name is (watermill_<topic>). Messages are
// filtered by the Id field in the JSON payload and ordered by offset.
func (l *sqlEventLog) getAllRecords(ctx context.Context, topic, id string) ([][]byte, error) {
	query := fmt.Sprintf(
		`SELECT payload FROM watermill_%s WHERE payload->>'Id' = $1 ORDER BY "offset" ASC;`,
		topic,
	)

	rows, err := l.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to query messages for topic %s with id %s: %w",
			topic, id, err,
		)
	}
	// nolint
	defer rows.Close()

	records := make([][]byte, 0)
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan message payload: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(
			"error iterating messages for topic %s with id %s: %w", topic, id, err,
		)
	}
	return records, nil
}

type memoryEventLog struct {
	pubsub *gochannel.GoChannel

	lock       *sync.RWMutex
	records    map[string]map[string][][]byte // topic -> id -> payloads
	subscribed map[string]struct{}
}

func (l *memoryEventLog) prepare(topic string) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if _, ok := l.subscribed[topic]; ok {
		return nil
	}
	messages, err := l.pubsub.Subscribe(context.Background(), topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %s", topic, err)
	}
	l.subscribed[topic] = struct{}{}
	l.records[topic] = make(map[string][][]byte)

	go l.listen(topic, messages)
	return nil
}

func (l *memoryEventLog) listen(topic string, messages <-chan *message.Message) {
	for msg := range messages {
		var event struct {
			Id string
		}
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			log.WithError(err).Warnf("dropping malformed %s event", topic)
			msg.Ack()
			continue
		}

		l.lock.Lock()
		l.records[topic][event.Id] = append(l.records[topic][event.Id], msg.Payload)
		l.lock.Unlock()
		msg.Ack()
	}
}

func (l *memoryEventLog) getAllRecords(_ context.Context, topic, id string) ([][]byte, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	records := l.records[topic][id]
	return append([][]byte{}, records...), nil
}

func toWatermillMessages(events []domain.Event) []*message.Message {
	watermillMessages := make([]*message.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}

		watermillMessages = append(
			watermillMessages,
			message.NewMessage(watermill.NewUUID(), payload),
		)
	}

	return watermillMessages
}

func deserializeEvent(buf []byte) (domain.Event, error) {
	var eventType struct {
		Type domain.EventType
	}

	if err := json.Unmarshal(buf, &eventType); err != nil {
		return nil, err
	}

	switch eventType.Type {
	case domain.EventTypeRoundStarted:
		var event = domain.RoundStarted{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeInputRegistered:
		var event = domain.InputRegistered{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeInputRemoved:
		var event = domain.InputRemoved{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeAliceConfirmed:
		var event = domain.AliceConfirmed{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeOutputRegistered:
		var event = domain.OutputRegistered{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeAliceReadyToSign:
		var event = domain.AliceReadyToSign{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypePhaseChanged:
		var event = domain.PhaseChanged{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeTransactionAssembled:
		var event = domain.TransactionAssembled{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeWitnessAdded:
		var event = domain.WitnessAdded{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	case domain.EventTypeRoundEnded:
		var event = domain.RoundEnded{}
		if err := json.Unmarshal(buf, &event); err == nil {
			return event, nil
		}
	}

	return nil, fmt.Errorf("unknown event")
}
