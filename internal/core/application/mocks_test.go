package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockBlockchain serves parent txs and spends from memory. Only broadcasts
// go through the mock so that tests can assert on them.
type mockBlockchain struct {
	mock.Mock

	lock    *sync.Mutex
	txs     map[string]*wire.MsgTx
	spent   map[domain.Outpoint]string
	mempool map[string]bool
	feeRate int64
}

func newMockBlockchain() *mockBlockchain {
	return &mockBlockchain{
		lock:    &sync.Mutex{},
		txs:     make(map[string]*wire.MsgTx),
		spent:   make(map[domain.Outpoint]string),
		mempool: make(map[string]bool),
		feeRate: 2000,
	}
}

func (m *mockBlockchain) addTx(tx *wire.MsgTx) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.txs[tx.TxHash().String()] = tx
}

func (m *mockBlockchain) spend(outpoint domain.Outpoint, spender string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.spent[outpoint] = spender
}

func (m *mockBlockchain) setInMempool(txid string, ok bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.mempool[txid] = ok
}

func (m *mockBlockchain) GetTransaction(_ context.Context, txid string) (*wire.MsgTx, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	tx, ok := m.txs[txid]
	if !ok {
		return nil, fmt.Errorf("tx %s not found", txid)
	}
	return tx.Copy(), nil
}

func (m *mockBlockchain) GetOutpointSpender(
	_ context.Context, outpoint domain.Outpoint,
) (string, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	spender, ok := m.spent[outpoint]
	return spender, ok, nil
}

func (m *mockBlockchain) IsTxInMempool(_ context.Context, txid string) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.mempool[txid], nil
}

func (m *mockBlockchain) BroadcastTransaction(ctx context.Context, txhex string) (string, error) {
	args := m.Called(ctx, txhex)
	return args.String(0), args.Error(1)
}

func (m *mockBlockchain) GetFeeRate(_ context.Context) (int64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.feeRate, nil
}

type mockScheduler struct {
	mock.Mock

	lock *sync.Mutex
	once []scheduledTask
}

type scheduledTask struct {
	at   time.Time
	task func()
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{lock: &sync.Mutex{}}
}

// runDue runs and forgets the one-shot tasks scheduled at or before now.
func (m *mockScheduler) runDue(now time.Time) {
	m.lock.Lock()
	due := make([]func(), 0)
	pending := make([]scheduledTask, 0, len(m.once))
	for _, t := range m.once {
		if t.at.After(now) {
			pending = append(pending, t)
			continue
		}
		due = append(due, t.task)
	}
	m.once = pending
	m.lock.Unlock()

	for _, task := range due {
		task()
	}
}

func (m *mockScheduler) Start() {
	m.Called()
}

func (m *mockScheduler) Stop() {
	m.Called()
}

func (m *mockScheduler) ScheduleEvery(period time.Duration, task func()) error {
	args := m.Called(period, task)
	return args.Error(0)
}

func (m *mockScheduler) ScheduleTaskOnce(at time.Time, task func()) error {
	args := m.Called(at, task)
	if err := args.Error(0); err != nil {
		return err
	}
	m.lock.Lock()
	m.once = append(m.once, scheduledTask{at, task})
	m.lock.Unlock()
	return nil
}

type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) Publish(ctx context.Context, topic ports.Topic, message any) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}
