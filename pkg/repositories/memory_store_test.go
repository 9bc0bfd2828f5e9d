package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) LedgerStore {
		return NewMemoryStore()
	})
}

func TestMemoryStoreLockWaitHonoursContext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := s.CreateAccount(ctx, "1234567890")
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Atomically(ctx, []int{a.Id}, func(LedgerTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.CommitTransactions(tctx, deposit(a.Id, 10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	got, err := s.GetAccountByID(ctx, a.Id)
	require.NoError(t, err)
	assert.Empty(t, got.Transactions)

	// The lock is free again.
	_, err = s.CommitTransactions(ctx, deposit(a.Id, 10))
	require.NoError(t, err)
}

func TestMemoryStoreDisjointAccountsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := s.CreateAccount(ctx, "1111111111")
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "2222222222")
	require.NoError(t, err)

	err = s.Atomically(ctx, []int{a.Id}, func(LedgerTx) error {
		tctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err := s.CommitTransactions(tctx, deposit(b.Id, 10))
		return err
	})
	require.NoError(t, err)

	got, err := s.GetAccountByID(ctx, b.Id)
	require.NoError(t, err)
	assert.Len(t, got.Transactions, 1)
}
