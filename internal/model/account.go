package model

import "time"

// Account is the DB entity persisted in the accounts table.
// CreditBalance is only ever changed through store.AdjustCredits.
type Account struct {
	ID             int64      `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	CredentialHash string     `db:"credential_hash" json:"-"`
	IsAdmin        bool       `db:"is_admin" json:"is_admin"`
	CreditBalance  int64      `db:"credit_balance" json:"credit_balance"`
	ResetToken     *string    `db:"reset_token" json:"-"`
	ResetExpiry    *time.Time `db:"reset_expiry" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// HasLiveResetToken reports whether the account carries a usable token at now.
func (a Account) HasLiveResetToken(now time.Time) bool {
	return a.ResetToken != nil && a.ResetExpiry != nil && now.Before(*a.ResetExpiry)
}
