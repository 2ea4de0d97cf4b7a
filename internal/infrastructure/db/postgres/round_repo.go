package pgdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	dbutil "github.com/arkade-os/cjd/internal/infrastructure/db/dbuitl"
	"github.com/arkade-os/cjd/internal/infrastructure/db/postgres/sqlc/queries"
)

type roundRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewRoundRepository(config ...interface{}) (domain.RoundRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open round repository: invalid config, expected db at 0")
	}

	return &roundRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *roundRepository) Close() {
	// nolint:all
	r.db.Close()
}

func (r *roundRepository) AddOrUpdateRound(ctx context.Context, round domain.Round) error {
	params, err := dbutil.EncodeParameters(round.Parameters)
	if err != nil {
		return err
	}

	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		stored, err := querierWithTx.SelectRound(ctx, round.Id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get round: %w", err)
		}
		if err == nil && uint64(stored.Version) > round.Version {
			return nil
		}

		if err := querierWithTx.UpsertRound(ctx, queries.UpsertRoundParams{
			ID:                round.Id,
			Phase:             int64(round.Phase),
			EndRoundState:     int64(round.EndRoundState),
			EndReason:         round.EndReason,
			StartingTimestamp: round.StartingTimestamp,
			EndingTimestamp:   round.EndingTimestamp,
			PhaseDeadline:     round.PhaseDeadline.UnixMilli(),
			BlameOf:           round.BlameOf,
			BlameWhitelist:    dbutil.EncodeOutpoints(round.BlameWhitelist),
			Parameters:        params,
			UnsignedTx:        round.CoinjoinState.UnsignedTx,
			Txid:              round.CoinjoinState.Txid,
			SignedTx:          round.CoinjoinState.SignedTx,
			Version:           int64(round.Version),
		}); err != nil {
			return fmt.Errorf("failed to upsert round: %w", err)
		}

		if err := querierWithTx.DeleteRoundInputs(ctx, round.Id); err != nil {
			return fmt.Errorf("failed to reset round inputs: %w", err)
		}
		for _, alice := range round.Alices {
			if err := querierWithTx.InsertRoundInput(ctx, queries.InsertRoundInputParams{
				RoundID:             round.Id,
				AliceID:             alice.Id,
				Txid:                alice.Coin.Txid,
				Vout:                int64(alice.Coin.VOut),
				Amount:              alice.Coin.Amount,
				PkScript:            hex.EncodeToString(alice.Coin.PkScript),
				ConnectionConfirmed: alice.ConnectionConfirmed,
				ReadyToSign:         alice.ReadyToSign,
			}); err != nil {
				return fmt.Errorf("failed to insert round input: %w", err)
			}
		}

		if err := querierWithTx.DeleteRoundOutputs(ctx, round.Id); err != nil {
			return fmt.Errorf("failed to reset round outputs: %w", err)
		}
		for i, bob := range round.Bobs {
			if err := querierWithTx.InsertRoundOutput(ctx, queries.InsertRoundOutputParams{
				RoundID: round.Id,
				Idx:     int64(i),
				Script:  hex.EncodeToString(bob.Script),
				Amount:  bob.Amount,
			}); err != nil {
				return fmt.Errorf("failed to insert round output: %w", err)
			}
		}
		return nil
	})
}

func (r *roundRepository) GetRoundWithId(ctx context.Context, id string) (*domain.Round, error) {
	row, err := r.querier.SelectRound(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("round with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	inputs, err := r.querier.SelectRoundInputs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get round inputs: %w", err)
	}
	outputs, err := r.querier.SelectRoundOutputs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get round outputs: %w", err)
	}

	return toDomainRound(row, inputs, outputs)
}

func (r *roundRepository) GetRoundIds(
	ctx context.Context, startedAfter, startedBefore int64,
) ([]string, error) {
	if err := dbutil.ValidateTimeRange(startedAfter, startedBefore); err != nil {
		return nil, err
	}
	ids, err := r.querier.SelectRoundIds(ctx, queries.SelectRoundIdsParams{
		StartedAfter:  startedAfter,
		StartedBefore: startedBefore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get round ids: %w", err)
	}
	return ids, nil
}

func toDomainRound(
	row queries.Round, inputs []queries.RoundInput, outputs []queries.RoundOutput,
) (*domain.Round, error) {
	params, err := dbutil.DecodeParameters(row.Parameters)
	if err != nil {
		return nil, err
	}
	whitelist, err := dbutil.DecodeOutpoints(row.BlameWhitelist)
	if err != nil {
		return nil, err
	}

	alices := make([]domain.Alice, 0, len(inputs))
	for _, in := range inputs {
		script, err := hex.DecodeString(in.PkScript)
		if err != nil {
			return nil, fmt.Errorf("invalid input script: %s", err)
		}
		alices = append(alices, domain.Alice{
			Id: in.AliceID,
			Coin: domain.Coin{
				Outpoint: domain.Outpoint{Txid: in.Txid, VOut: uint32(in.Vout)},
				Amount:   in.Amount,
				PkScript: script,
			},
			ConnectionConfirmed: in.ConnectionConfirmed,
			ReadyToSign:         in.ReadyToSign,
		})
	}

	bobs := make([]domain.Bob, 0, len(outputs))
	for _, out := range outputs {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, fmt.Errorf("invalid output script: %s", err)
		}
		bobs = append(bobs, domain.Bob{Script: script, Amount: out.Amount})
	}

	return &domain.Round{
		Id:                row.ID,
		Parameters:        params,
		Phase:             domain.Phase(row.Phase),
		EndRoundState:     domain.EndRoundState(row.EndRoundState),
		EndReason:         row.EndReason,
		StartingTimestamp: row.StartingTimestamp,
		EndingTimestamp:   row.EndingTimestamp,
		PhaseDeadline:     time.UnixMilli(row.PhaseDeadline),
		Alices:            alices,
		Bobs:              bobs,
		BlameOf:           row.BlameOf,
		BlameWhitelist:    whitelist,
		CoinjoinState: domain.CoinjoinState{
			UnsignedTx: row.UnsignedTx,
			Txid:       row.Txid,
			SignedTx:   row.SignedTx,
		},
		Version: uint64(row.Version),
	}, nil
}
