package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	dbutil "github.com/arkade-os/cjd/internal/infrastructure/db/dbuitl"
	"github.com/arkade-os/cjd/internal/infrastructure/db/postgres/sqlc/queries"
)

type offenderRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewOffenderRepository(config ...interface{}) (domain.OffenderRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open offender repository: invalid config, expected db at 0",
		)
	}

	return &offenderRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *offenderRepository) Close() {
	// nolint:all
	r.db.Close()
}

func (r *offenderRepository) Add(ctx context.Context, offenders ...domain.Offender) error {
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		for _, offender := range offenders {
			data, err := dbutil.EncodeOffender(offender)
			if err != nil {
				return err
			}
			if err := querierWithTx.UpsertOffender(ctx, queries.UpsertOffenderParams{
				ID:         offender.Id,
				Txid:       offender.Outpoint.Txid,
				Vout:       int64(offender.Outpoint.VOut),
				BannedAt:   offender.BannedAt.UnixMilli(),
				ReasonKind: string(offender.Reason.Kind()),
				Data:       data,
			}); err != nil {
				return fmt.Errorf("failed to upsert offender: %w", err)
			}
		}
		return nil
	})
}

func (r *offenderRepository) Get(ctx context.Context, id string) (*domain.Offender, error) {
	offender, err := r.querier.SelectOffender(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("offender with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get offender: %w", err)
	}
	return dbutil.DecodeOffender(offender.Data)
}

func (r *offenderRepository) GetByOutpoint(
	ctx context.Context, outpoint domain.Outpoint,
) ([]domain.Offender, error) {
	rows, err := r.querier.SelectOffendersByOutpoint(
		ctx, queries.SelectOffendersByOutpointParams{
			Txid: outpoint.Txid,
			Vout: int64(outpoint.VOut),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get offenders: %w", err)
	}
	return toOffenders(rows)
}

func (r *offenderRepository) GetAll(
	ctx context.Context, from, to time.Time,
) ([]domain.Offender, error) {
	rows, err := r.querier.SelectOffendersInTimeRange(
		ctx, queries.SelectOffendersInTimeRangeParams{
			FromTime: from.UnixMilli(),
			ToTime:   to.UnixMilli(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get offenders in time range: %w", err)
	}
	return toOffenders(rows)
}

func toOffenders(rows []queries.Offender) ([]domain.Offender, error) {
	offenders := make([]domain.Offender, 0, len(rows))
	for _, row := range rows {
		offender, err := dbutil.DecodeOffender(row.Data)
		if err != nil {
			return nil, err
		}
		offenders = append(offenders, *offender)
	}
	return offenders, nil
}
