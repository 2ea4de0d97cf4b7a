package archiver_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/infrastructure/archiver"
	"github.com/stretchr/testify/require"
)

func TestArchive(t *testing.T) {
	datadir := t.TempDir()
	svc, err := archiver.NewService(datadir)
	require.NoError(t, err)

	createdAt := time.Date(2024, 5, 17, 23, 59, 0, 0, time.UTC)
	txid := strings.Repeat("ab", 32)
	txhex := "0200000000010100"

	err = svc.Archive(t.Context(), createdAt, txid, txhex)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(datadir, "archive", "2024-05-17", txid+".json"))
	require.NoError(t, err)

	tx, err := svc.Get(t.Context(), txid)
	require.NoError(t, err)
	require.Equal(t, txid, tx.Txid)
	require.Equal(t, txhex, tx.RawTx)
	require.True(t, createdAt.Equal(tx.CreatedAt))

	_, err = svc.Get(t.Context(), strings.Repeat("cd", 32))
	require.Error(t, err)

	err = svc.Archive(t.Context(), createdAt, "short", txhex)
	require.Error(t, err)
}
