package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lojinha/sms-dispatcher/internal/db"
	"github.com/lojinha/sms-dispatcher/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })

	return store.New(dbx)
}

func TestCreateAccountDuplicateUsername(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateAccount(ctx, "alice", "pw1", false)
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	_, err = s.CreateAccount(ctx, "alice", "pw2", false)
	require.ErrorIs(t, err, store.ErrDuplicateUsername)

	accs, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 1)

	// the surviving record still carries the hash derived from pw1
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(accs[0].CredentialHash), []byte("pw1")))
	require.Error(t, bcrypt.CompareHashAndPassword([]byte(accs[0].CredentialHash), []byte("pw2")))
}

func TestCreateAccountUsernameCaseSensitive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "alice", "pw", false)
	require.NoError(t, err)

	_, err = s.CreateAccount(ctx, "Alice", "pw", false)
	require.NoError(t, err)
}

func TestAdjustCredits(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "bob", "pw", false)
	require.NoError(t, err)

	require.NoError(t, s.AdjustCredits(ctx, acc.ID, 5))

	err = s.AdjustCredits(ctx, acc.ID, -10)
	require.ErrorIs(t, err, store.ErrInsufficientCredits)

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5, got.CreditBalance)

	require.NoError(t, s.AdjustCredits(ctx, acc.ID, -5))
	got, err = s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.CreditBalance)

	require.ErrorIs(t, s.AdjustCredits(ctx, acc.ID, -1), store.ErrInsufficientCredits)
	require.ErrorIs(t, s.AdjustCredits(ctx, 9999, 1), store.ErrAccountNotFound)
}

func TestAdjustCreditsConcurrent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "carol", "pw", false)
	require.NoError(t, err)

	const n = 40

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	errCh := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.AdjustCredits(ctx, acc.ID, 1); err != nil {
				errCh <- err
			}
		}()
		go func() {
			defer wg.Done()
			err := s.AdjustCredits(ctx, acc.ID, -1)
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, store.ErrInsufficientCredits):
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("unexpected adjust error: %v", err)
	}

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.EqualValues(t, int64(n)-accepted.Load(), got.CreditBalance)
	require.GreaterOrEqual(t, got.CreditBalance, int64(0))
}

// Two stores over the same database file stand in for the API server and a
// worker sharing it from separate processes. Positive adjustments must wait
// out each other's write locks, never fail.
func TestAdjustCreditsCrossConnection(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.db")

	openStore := func() *store.Store {
		dbx, err := db.NewSQLiteConnection(path, db.SQLiteOpts{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = dbx.Close() })
		return store.New(dbx)
	}
	s1 := openStore()
	s2 := openStore()

	ctx := context.Background()
	acc, err := s1.CreateAccount(ctx, "dave", "pw", false)
	require.NoError(t, err)

	const n = 50

	var wg sync.WaitGroup
	errCh := make(chan error, n*2)
	for _, s := range []*store.Store{s1, s2} {
		wg.Add(1)
		go func(s *store.Store) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if err := s.AdjustCredits(ctx, acc.ID, 1); err != nil {
					errCh <- err
				}
			}
		}(s)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("adjust error: %v", err)
	}

	got, err := s2.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2*n, got.CreditBalance)
}

func TestGetAccountIdempotentRead(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "dave", "pw", true)
	require.NoError(t, err)

	a, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	b, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, a.IsAdmin)
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	admin, err := s.CreateAccount(ctx, "admin", "pw", true)
	require.NoError(t, err)
	victim, err := s.CreateAccount(ctx, "victim", "pw", false)
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteAccount(ctx, admin.ID, admin.ID), store.ErrSelfDelete)

	require.NoError(t, s.DeleteAccount(ctx, admin.ID, victim.ID))
	_, err = s.GetAccount(ctx, victim.ID)
	require.ErrorIs(t, err, store.ErrAccountNotFound)

	require.ErrorIs(t, s.DeleteAccount(ctx, admin.ID, victim.ID), store.ErrAccountNotFound)
}

func TestResetTokenLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "eve", "oldpw", false)
	require.NoError(t, err)

	token, err := s.IssueResetToken(ctx, acc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// regeneration supersedes the first token
	second, err := s.IssueResetToken(ctx, acc.ID)
	require.NoError(t, err)
	require.NotEqual(t, token, second)
	require.ErrorIs(t, s.ConsumeResetToken(ctx, token, "x"), store.ErrInvalidOrExpiredToken)

	require.NoError(t, s.ConsumeResetToken(ctx, second, "newpw"))

	_, err = s.VerifyCredentials(ctx, "eve", "newpw")
	require.NoError(t, err)
	_, err = s.VerifyCredentials(ctx, "eve", "oldpw")
	require.ErrorIs(t, err, store.ErrInvalidCredentials)

	// token is single use
	require.ErrorIs(t, s.ConsumeResetToken(ctx, second, "again"), store.ErrInvalidOrExpiredToken)
}

func TestResetTokenExpired(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "frank", "pw", false)
	require.NoError(t, err)

	token, err := s.IssueResetToken(ctx, acc.ID)
	require.NoError(t, err)

	// age the token past its expiry
	err = s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE accounts SET reset_expiry = ? WHERE id = ?`,
			time.Now().UTC().Add(-time.Minute), acc.ID)
		return err
	})
	require.NoError(t, err)

	require.ErrorIs(t, s.ConsumeResetToken(ctx, token, "newpw"), store.ErrInvalidOrExpiredToken)

	// expired token must not have touched the credential hash
	_, err = s.VerifyCredentials(ctx, "frank", "pw")
	require.NoError(t, err)
}

func TestIssueResetTokenUnknownAccount(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.IssueResetToken(context.Background(), 404)
	require.ErrorIs(t, err, store.ErrAccountNotFound)
}
