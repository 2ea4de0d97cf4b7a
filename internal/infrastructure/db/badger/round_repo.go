package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/arkade-os/cjd/internal/core/domain"
	dbutil "github.com/arkade-os/cjd/internal/infrastructure/db/dbuitl"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const roundStoreDir = "rounds"

type roundRepository struct {
	store *badgerhold.Store
}

func NewRoundRepository(config ...interface{}) (domain.RoundRepository, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, roundStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open round store: %s", err)
	}

	return &roundRepository{store}, nil
}

func (r *roundRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *roundRepository) AddOrUpdateRound(ctx context.Context, round domain.Round) error {
	dbRound := Round{
		ID:                round.Id,
		StartingTimestamp: round.StartingTimestamp,
		Version:           round.Version,
		Round:             round,
	}
	dbRound.Round.ClearEvents()

	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var stored Round
		err := r.store.TxGet(tx, round.Id, &stored)
		if err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to get round: %w", err)
		}
		if err == nil && stored.Version > round.Version {
			return nil
		}
		if err := r.store.TxUpsert(tx, round.Id, dbRound); err != nil {
			return fmt.Errorf("failed to upsert round: %w", err)
		}
		return nil
	})
}

func (r *roundRepository) GetRoundWithId(ctx context.Context, id string) (*domain.Round, error) {
	var round Round
	if err := r.store.Get(id, &round); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("round with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return &round.Round, nil
}

func (r *roundRepository) GetRoundIds(
	ctx context.Context, startedAfter, startedBefore int64,
) ([]string, error) {
	if err := dbutil.ValidateTimeRange(startedAfter, startedBefore); err != nil {
		return nil, err
	}

	var query *badgerhold.Query
	switch {
	case startedAfter > 0 && startedBefore > 0:
		query = badgerhold.Where("StartingTimestamp").Gt(startedAfter).
			And("StartingTimestamp").Lt(startedBefore)
	case startedAfter > 0:
		query = badgerhold.Where("StartingTimestamp").Gt(startedAfter)
	case startedBefore > 0:
		query = badgerhold.Where("StartingTimestamp").Lt(startedBefore)
	}

	var rounds []Round
	if err := r.store.Find(&rounds, query); err != nil {
		return nil, fmt.Errorf("failed to get round ids: %w", err)
	}
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].StartingTimestamp < rounds[j].StartingTimestamp
	})

	ids := make([]string, 0, len(rounds))
	for _, round := range rounds {
		ids = append(ids, round.ID)
	}
	return ids, nil
}

// Round is the projection of a round in the database
type Round struct {
	ID                string `badgerhold:"key"`
	StartingTimestamp int64
	Version           uint64
	Round             domain.Round
}
