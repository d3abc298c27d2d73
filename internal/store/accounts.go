package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/lojinha/sms-dispatcher/internal/model"
)

const resetTokenTTL = 24 * time.Hour

// CreateAccount inserts a new account with a bcrypt credential hash.
// The case-sensitive username collision check runs inside the same locked
// transaction as the insert, so check-then-act is atomic.
func (s *Store) CreateAccount(ctx context.Context, username, password string, isAdmin bool) (model.Account, error) {
	// bcrypt is slow on purpose; hash outside the accounts lock.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Account{}, err
	}

	now := time.Now().UTC()
	acc := model.Account{
		Username:       username,
		CredentialHash: string(hash),
		IsAdmin:        isAdmin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		var one int
		err := tx.QueryRowxContext(ctx,
			`SELECT 1 FROM accounts WHERE username = ? LIMIT 1`, username,
		).Scan(&one)
		if err == nil {
			return ErrDuplicateUsername
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return unavailable("check username", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (username, credential_hash, is_admin, credit_balance, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)
		`, acc.Username, acc.CredentialHash, acc.IsAdmin, acc.CreatedAt, acc.UpdatedAt)
		if err != nil {
			return unavailable("insert account", err)
		}

		acc.ID, err = res.LastInsertId()
		if err != nil {
			return unavailable("account id", err)
		}
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

// DeleteAccount removes an account. The acting account may not delete
// itself.
func (s *Store) DeleteAccount(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return ErrSelfDelete
	}

	return s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return unavailable("delete account", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return unavailable("delete account", err)
		}
		if affected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}

// AdjustCredits is the only path allowed to change credit_balance.
// Negative deltas fail without mutating state when they would take the
// balance below zero; positive deltas always succeed.
func (s *Store) AdjustCredits(ctx context.Context, id, delta int64) error {
	return s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		var balance int64
		err := tx.QueryRowxContext(ctx,
			`SELECT credit_balance FROM accounts WHERE id = ?`, id,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return unavailable("read balance", err)
		}

		if balance+delta < 0 {
			return ErrInsufficientCredits
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts SET credit_balance = credit_balance + ?, updated_at = ? WHERE id = ?
		`, delta, time.Now().UTC(), id)
		if err != nil {
			return unavailable("adjust credits", err)
		}
		return nil
	})
}

// IssueResetToken generates a random token with a 24h absolute expiry,
// overwriting any prior token for the account.
func (s *Store) IssueResetToken(ctx context.Context, id int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	expiry := time.Now().UTC().Add(resetTokenTTL)

	err := s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts SET reset_token = ?, reset_expiry = ?, updated_at = ? WHERE id = ?
		`, token, expiry, time.Now().UTC(), id)
		if err != nil {
			return unavailable("issue reset token", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return unavailable("issue reset token", err)
		}
		if affected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeResetToken replaces the credential hash and clears the token in
// one transaction, so a validated token and the old password never coexist.
func (s *Store) ConsumeResetToken(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidOrExpiredToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.WithAccountsTx(ctx, func(tx *sqlx.Tx) error {
		var (
			id     int64
			expiry time.Time
		)
		err := tx.QueryRowxContext(ctx,
			`SELECT id, reset_expiry FROM accounts WHERE reset_token = ?`, token,
		).Scan(&id, &expiry)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return unavailable("lookup reset token", err)
		}

		if !time.Now().Before(expiry) {
			return ErrInvalidOrExpiredToken
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts
			   SET credential_hash = ?, reset_token = NULL, reset_expiry = NULL, updated_at = ?
			 WHERE id = ?
		`, string(hash), time.Now().UTC(), id)
		if err != nil {
			return unavailable("consume reset token", err)
		}
		return nil
	})
}

const accountColumns = `id, username, credential_hash, is_admin, credit_balance, reset_token, reset_expiry, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, unavailable("get account", err)
	}
	return acc, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, unavailable("get account by username", err)
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accs []model.Account
	err := s.db.SelectContext(ctx, &accs,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, unavailable("list accounts", err)
	}
	return accs, nil
}

// VerifyCredentials checks a username/password pair against the stored
// bcrypt hash. Unknown usernames and wrong passwords both report
// ErrInvalidCredentials.
func (s *Store) VerifyCredentials(ctx context.Context, username, password string) (model.Account, error) {
	acc, err := s.GetAccountByUsername(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		return model.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(acc.CredentialHash), []byte(password)) != nil {
		return model.Account{}, ErrInvalidCredentials
	}
	return acc, nil
}
