package application

import (
	"context"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"
)

const (
	// maxMissedChecks is how many consecutive checks a broadcast coinjoin may
	// be missing from the mempool before it is considered dropped.
	maxMissedChecks = 10
	// coinjoinRetention is how long a propagated coinjoin is remembered.
	coinjoinRetention = 24 * time.Hour
)

type trackedCoinjoin struct {
	broadcastAt  time.Time
	propagated   bool
	missedChecks int
}

// mempoolManager keeps track of the coinjoins we broadcast and of which of
// them actually propagated. It also looks up who spent registered coins.
type mempoolManager struct {
	observer ports.MempoolObserver
	pool     *workerpool.WorkerPool

	lock      *sync.RWMutex
	coinjoins map[string]*trackedCoinjoin
}

func newMempoolManager(
	observer ports.MempoolObserver, pool *workerpool.WorkerPool,
) *mempoolManager {
	return &mempoolManager{
		observer:  observer,
		pool:      pool,
		lock:      &sync.RWMutex{},
		coinjoins: make(map[string]*trackedCoinjoin),
	}
}

func (m *mempoolManager) track(txid string, broadcastAt time.Time) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.coinjoins[txid]; ok {
		return
	}
	m.coinjoins[txid] = &trackedCoinjoin{broadcastAt: broadcastAt}
}

// isCoinjoin tells whether the tx is one of our coinjoins that is still
// being tracked.
func (m *mempoolManager) isCoinjoin(txid string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	_, ok := m.coinjoins[txid]
	return ok
}

func (m *mempoolManager) propagatedCoinjoins() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	txids := make([]string, 0, len(m.coinjoins))
	for txid, c := range m.coinjoins {
		if c.propagated {
			txids = append(txids, txid)
		}
	}
	return txids
}

// checkCoinjoins queries the mempool for every tracked coinjoin.
func (m *mempoolManager) checkCoinjoins(ctx context.Context, now time.Time) {
	m.lock.RLock()
	txids := make([]string, 0, len(m.coinjoins))
	for txid := range m.coinjoins {
		txids = append(txids, txid)
	}
	m.lock.RUnlock()

	found := make(map[string]bool, len(txids))
	resultLock := &sync.Mutex{}
	wg := &sync.WaitGroup{}
	for _, txid := range txids {
		wg.Add(1)
		m.pool.Submit(func() {
			defer wg.Done()
			ok, err := m.observer.IsTxInMempool(ctx, txid)
			if err != nil {
				log.WithError(err).Debugf("failed to check coinjoin %s in mempool", txid)
				return
			}
			resultLock.Lock()
			found[txid] = ok
			resultLock.Unlock()
		})
	}
	wg.Wait()

	m.lock.Lock()
	defer m.lock.Unlock()

	for txid, ok := range found {
		c, exists := m.coinjoins[txid]
		if !exists {
			continue
		}
		if ok {
			if !c.propagated {
				log.Infof("coinjoin %s propagated", txid)
			}
			c.propagated = true
			c.missedChecks = 0
		} else {
			c.missedChecks++
		}

		switch {
		case !c.propagated && c.missedChecks >= maxMissedChecks:
			log.Warnf("coinjoin %s never reached the mempool, giving up tracking it", txid)
			delete(m.coinjoins, txid)
		case c.propagated && now.Sub(c.broadcastAt) > coinjoinRetention:
			delete(m.coinjoins, txid)
		}
	}
}

// findSpent returns the spending txid of every given outpoint that is
// already spent, in the mempool or in a block.
func (m *mempoolManager) findSpent(
	ctx context.Context, outpoints mapset.Set[domain.Outpoint],
) map[domain.Outpoint]string {
	spent := make(map[domain.Outpoint]string)
	resultLock := &sync.Mutex{}
	wg := &sync.WaitGroup{}
	for _, outpoint := range outpoints.ToSlice() {
		wg.Add(1)
		m.pool.Submit(func() {
			defer wg.Done()
			spender, isSpent, err := m.observer.GetOutpointSpender(ctx, outpoint)
			if err != nil {
				log.WithError(err).Debugf("failed to get spender of %s", outpoint)
				return
			}
			if !isSpent {
				return
			}
			resultLock.Lock()
			spent[outpoint] = spender
			resultLock.Unlock()
		})
	}
	wg.Wait()
	return spent
}
