package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	dbutil "github.com/arkade-os/cjd/internal/infrastructure/db/dbuitl"
	"github.com/timshannon/badgerhold/v4"
)

const offenderStoreDir = "offenders"

type offenderRepository struct {
	store *badgerhold.Store
}

func NewOffenderRepository(config ...interface{}) (domain.OffenderRepository, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, offenderStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open offender store: %s", err)
	}

	return &offenderRepository{store}, nil
}

func (r *offenderRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *offenderRepository) Add(ctx context.Context, offenders ...domain.Offender) error {
	for _, offender := range offenders {
		data, err := dbutil.EncodeOffender(offender)
		if err != nil {
			return err
		}
		dbOffender := Offender{
			ID:         offender.Id,
			Outpoint:   offender.Outpoint.String(),
			BannedAt:   offender.BannedAt.UnixMilli(),
			ReasonKind: string(offender.Reason.Kind()),
			Data:       data,
		}
		if err := r.store.Upsert(dbOffender.ID, dbOffender); err != nil {
			return fmt.Errorf("failed to upsert offender: %w", err)
		}
	}
	return nil
}

func (r *offenderRepository) Get(ctx context.Context, id string) (*domain.Offender, error) {
	var offender Offender
	if err := r.store.Get(id, &offender); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("offender with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get offender: %w", err)
	}
	return dbutil.DecodeOffender(offender.Data)
}

func (r *offenderRepository) GetByOutpoint(
	ctx context.Context, outpoint domain.Outpoint,
) ([]domain.Offender, error) {
	var offenders []Offender
	query := badgerhold.Where("Outpoint").Eq(outpoint.String())
	if err := r.store.Find(&offenders, query); err != nil {
		return nil, fmt.Errorf("failed to get offenders: %w", err)
	}
	return toDomainOffenders(offenders)
}

func (r *offenderRepository) GetAll(
	ctx context.Context, from, to time.Time,
) ([]domain.Offender, error) {
	var offenders []Offender
	query := badgerhold.Where("BannedAt").Ge(from.UnixMilli()).
		And("BannedAt").Le(to.UnixMilli())
	if err := r.store.Find(&offenders, query); err != nil {
		return nil, fmt.Errorf("failed to get offenders in time range: %w", err)
	}
	return toDomainOffenders(offenders)
}

func toDomainOffenders(offenders []Offender) ([]domain.Offender, error) {
	sort.SliceStable(offenders, func(i, j int) bool {
		return offenders[i].BannedAt < offenders[j].BannedAt
	})
	result := make([]domain.Offender, 0, len(offenders))
	for _, o := range offenders {
		offender, err := dbutil.DecodeOffender(o.Data)
		if err != nil {
			return nil, err
		}
		result = append(result, *offender)
	}
	return result, nil
}

// Offender represents a ban ledger entry in the database
type Offender struct {
	ID         string `badgerhold:"key"`
	Outpoint   string `badgerhold:"index"`
	BannedAt   int64
	ReasonKind string
	Data       string
}
