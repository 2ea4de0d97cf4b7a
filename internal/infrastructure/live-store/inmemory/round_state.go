package inmemorylivestore

import (
	"context"
	"sort"
	"sync"

	"github.com/arkade-os/cjd/internal/core/ports"
)

type liveStore struct {
	roundStates ports.RoundStateStore
}

func NewLiveStore() ports.LiveStore {
	return &liveStore{
		roundStates: NewRoundStateStore(),
	}
}

func (s *liveStore) RoundStates() ports.RoundStateStore {
	return s.roundStates
}

type roundStateStore struct {
	lock   sync.RWMutex
	states map[string]ports.RoundState
}

func NewRoundStateStore() ports.RoundStateStore {
	return &roundStateStore{
		states: make(map[string]ports.RoundState),
	}
}

func (s *roundStateStore) Upsert(_ context.Context, state ports.RoundState) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if stored, ok := s.states[state.RoundId]; ok && stored.Version > state.Version {
		return nil
	}
	s.states[state.RoundId] = state
	return nil
}

func (s *roundStateStore) Get(_ context.Context, roundId string) (*ports.RoundState, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	state, ok := s.states[roundId]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *roundStateStore) GetAll(_ context.Context) ([]ports.RoundState, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	states := make([]ports.RoundState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].RoundId < states[j].RoundId
	})
	return states, nil
}

func (s *roundStateStore) Delete(_ context.Context, roundId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.states, roundId)
	return nil
}
