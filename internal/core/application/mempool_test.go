package application

import (
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gammazero/workerpool"
	"github.com/stretchr/testify/require"
)

func TestMempoolManager(t *testing.T) {
	chain := newMockBlockchain()
	pool := workerpool.New(2)
	t.Cleanup(pool.StopWait)

	m := newMempoolManager(chain, pool)
	propagated := fmt.Sprintf("%064x", 1)
	dropped := fmt.Sprintf("%064x", 2)

	m.track(propagated, startTime)
	m.track(dropped, startTime)
	require.True(t, m.isCoinjoin(propagated))
	require.False(t, m.isCoinjoin(fmt.Sprintf("%064x", 3)))

	chain.setInMempool(propagated, true)
	for i := 0; i < maxMissedChecks; i++ {
		m.checkCoinjoins(t.Context(), startTime.Add(time.Duration(i)*time.Second))
	}

	require.Equal(t, []string{propagated}, m.propagatedCoinjoins())
	require.False(t, m.isCoinjoin(dropped))

	m.checkCoinjoins(t.Context(), startTime.Add(coinjoinRetention+time.Second))
	require.False(t, m.isCoinjoin(propagated))
}

func TestFindSpent(t *testing.T) {
	chain := newMockBlockchain()
	pool := workerpool.New(2)
	t.Cleanup(pool.StopWait)
	m := newMempoolManager(chain, pool)

	unspent := domain.Outpoint{Txid: fmt.Sprintf("%064x", 1), VOut: 0}
	spent := domain.Outpoint{Txid: fmt.Sprintf("%064x", 2), VOut: 1}
	spender := fmt.Sprintf("%064x", 3)
	chain.spend(spent, spender)

	found := m.findSpent(t.Context(), mapset.NewSet(unspent, spent))
	require.Len(t, found, 1)
	require.Equal(t, spender, found[spent])
}
