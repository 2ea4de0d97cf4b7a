package ports

import (
	"context"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/btcsuite/btcd/wire"
)

// MempoolObserver tells whether transactions and outpoints are known to the
// network.
type MempoolObserver interface {
	IsTxInMempool(ctx context.Context, txid string) (bool, error)
	// GetOutpointSpender returns the txid of the tx spending the outpoint, if
	// any, either in mempool or confirmed.
	GetOutpointSpender(ctx context.Context, outpoint domain.Outpoint) (string, bool, error)
}

type TxBroadcaster interface {
	BroadcastTransaction(ctx context.Context, txhex string) (string, error)
}

type TxProvider interface {
	GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error)
}
