package ports

import (
	"context"
	"time"
)

type TxArchiver interface {
	Archive(ctx context.Context, createdAt time.Time, txid, txhex string) error
	Get(ctx context.Context, txid string) (*ArchivedTx, error)
}

type ArchivedTx struct {
	CreatedAt time.Time `json:"created_at"`
	Txid      string    `json:"txid"`
	RawTx     string    `json:"raw_tx"`
}
