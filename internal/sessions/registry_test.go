package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

func newAcct(id string) *domain.Account {
	return domain.NewAccount(id, decimal.NewFromInt(10000), time.Now())
}

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newAcct("a")))

	err := r.Add(newAcct("a"))
	assert.ErrorIs(t, err, ports.ErrSessionExists)

	err = r.WithSession(context.Background(), "missing", func(*Txn) error { return nil })
	assert.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestWithSessionSerializesAccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newAcct("a")))

	// Many goroutines increment cash by replacing state; with the session
	// lock held across read-modify-write, no update can be lost.
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = r.WithSession(context.Background(), "a", func(txn *Txn) error {
				next := txn.Account().Clone()
				next.Cash = next.Cash.Add(decimal.NewFromInt(1))
				txn.Replace(next)
				return nil
			})
		}()
	}
	wg.Wait()

	snap, err := r.Snapshot(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(10050)))
}

func TestWithSessionHonorsCancelledContext(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newAcct("a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.WithSession(ctx, "a", func(*Txn) error {
		t.Fatal("callback must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

func TestActiveIDsExcludesFinished(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newAcct("a")))
	require.NoError(t, r.Add(newAcct("b")))

	require.NoError(t, r.WithSession(context.Background(), "b", func(txn *Txn) error {
		next := txn.Account().Clone()
		next.Status = domain.StatusFinished
		txn.Replace(next)
		return nil
	}))

	active := r.ActiveIDs()
	assert.Equal(t, []string{"a"}, active)
	assert.Len(t, r.IDs(), 2)
}

func TestSettlementCache(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newAcct("a")))

	rep := &domain.SettlementReport{AccountID: "a"}
	require.NoError(t, r.WithSession(context.Background(), "a", func(txn *Txn) error {
		assert.Nil(t, txn.Settlement())
		txn.SetSettlement(rep)
		return nil
	}))
	require.NoError(t, r.WithSession(context.Background(), "a", func(txn *Txn) error {
		assert.Same(t, rep, txn.Settlement())
		return nil
	}))
}
