package redislivestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	roundStateKeyPrefix = "roundState:"
	roundStateIdsKey    = "roundState:ids"
)

type liveStore struct {
	roundStates ports.RoundStateStore
}

func NewLiveStore(rdb *redis.Client, numOfRetries int) ports.LiveStore {
	return &liveStore{
		roundStates: NewRoundStateStore(rdb, numOfRetries),
	}
}

func (s *liveStore) RoundStates() ports.RoundStateStore {
	return s.roundStates
}

type roundStateStore struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
}

func NewRoundStateStore(rdb *redis.Client, numOfRetries int) ports.RoundStateStore {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	return &roundStateStore{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
	}
}

func (s *roundStateStore) Upsert(ctx context.Context, state ports.RoundState) error {
	key := roundStateKey(state.RoundId)
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal round state: %v", err)
	}

	for range s.numOfRetries {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := getRoundState(ctx, tx, key)
			if err != nil {
				return err
			}
			if stored != nil && stored.Version > state.Version {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, val, 0)
				pipe.SAdd(ctx, roundStateIdsKey, state.RoundId)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		time.Sleep(s.retryDelay)
	}
	return fmt.Errorf("failed to upsert round state %s: %v", state.RoundId, err)
}

func (s *roundStateStore) Get(ctx context.Context, roundId string) (*ports.RoundState, error) {
	return getRoundState(ctx, s.rdb, roundStateKey(roundId))
}

func (s *roundStateStore) GetAll(ctx context.Context) ([]ports.RoundState, error) {
	ids, err := s.rdb.SMembers(ctx, roundStateIdsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round ids: %v", err)
	}
	if len(ids) == 0 {
		return []ports.RoundState{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, roundStateKey(id))
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round states: %v", err)
	}

	states := make([]ports.RoundState, 0, len(values))
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		var state ports.RoundState
		if err := json.Unmarshal([]byte(str), &state); err != nil {
			log.WithError(err).Warnf("skipping malformed round state %s", ids[i])
			continue
		}
		states = append(states, state)
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].RoundId < states[j].RoundId
	})
	return states, nil
}

func (s *roundStateStore) Delete(ctx context.Context, roundId string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roundStateKey(roundId))
		pipe.SRem(ctx, roundStateIdsKey, roundId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete round state %s: %v", roundId, err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRoundState(ctx context.Context, c getter, key string) (*ports.RoundState, error) {
	buf, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get round state: %v", err)
	}
	var state ports.RoundState
	if err := json.Unmarshal(buf, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round state: %v", err)
	}
	return &state, nil
}

func roundStateKey(roundId string) string {
	return roundStateKeyPrefix + roundId
}
