package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

func newTestBoltStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(path, time.Second)
	require.NoError(t, err, "failed to open test store")
	return s
}

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) LedgerStore {
		s := newTestBoltStore(t, filepath.Join(t.TempDir(), "ledger.db"))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s := newTestBoltStore(t, path)
	a, err := s.CreateAccount(ctx, "1234567890")
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "2222222222")
	require.NoError(t, err)
	_, err = s.CommitTransactions(ctx, deposit(a.Id, 200))
	require.NoError(t, err)
	_, err = s.CommitTransactions(ctx, transfer(a.Id, b.Id, 150))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestBoltStore(t, path)
	defer reopened.Close()

	accounts, err := reopened.GetAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "50", accounts[0].Balance().String())
	assert.Equal(t, "150", accounts[1].Balance().String())

	_, err = reopened.CreateAccount(ctx, "1234567890")
	assert.ErrorIs(t, err, domain.ErrDuplicatePhone)

	c, err := reopened.CreateAccount(ctx, "3333333333")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Id)
}
