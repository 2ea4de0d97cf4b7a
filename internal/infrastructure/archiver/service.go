package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	archiveDir = "archive"
	dayLayout  = "2006-01-02"
)

type service struct {
	baseDir string
	lock    *sync.Mutex
}

// NewService returns an archiver storing one JSON file per transaction under
// <datadir>/archive/<yyyy-mm-dd>/<txid>.json.
func NewService(datadir string) (ports.TxArchiver, error) {
	baseDir := filepath.Join(datadir, archiveDir)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %s", err)
	}
	return &service{baseDir, &sync.Mutex{}}, nil
}

func (s *service) Archive(
	_ context.Context, createdAt time.Time, txid, txhex string,
) error {
	if len(txid) != 64 {
		return fmt.Errorf("invalid txid %s", txid)
	}

	buf, err := json.Marshal(ports.ArchivedTx{
		CreatedAt: createdAt.UTC(),
		Txid:      txid,
		RawTx:     txhex,
	})
	if err != nil {
		return fmt.Errorf("failed to encode archived tx: %s", err)
	}

	dir := filepath.Join(s.baseDir, createdAt.UTC().Format(dayLayout))

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %s", err)
	}
	// Write then rename, so a crash never leaves a partial record behind.
	tmp, err := os.CreateTemp(dir, txid+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %s", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		// nolint:all
		tmp.Close()
		// nolint:all
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write archive file: %s", err)
	}
	if err := tmp.Close(); err != nil {
		// nolint:all
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write archive file: %s", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, txid+".json")); err != nil {
		return fmt.Errorf("failed to store archive file: %s", err)
	}

	log.Debugf("archived tx %s", txid)
	return nil
}

func (s *service) Get(_ context.Context, txid string) (*ports.ArchivedTx, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*", txid+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to look up archive: %s", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("tx %s not found in archive", txid)
	}

	buf, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read archive file: %s", err)
	}
	var tx ports.ArchivedTx
	if err := json.Unmarshal(buf, &tx); err != nil {
		return nil, fmt.Errorf("corrupt archive file %s: %s", matches[0], err)
	}
	return &tx, nil
}
