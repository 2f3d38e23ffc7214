package models

import "time"

// Entitlement records granted access to a title for an account. Rental access
// is bounded by Expiry; ownership is unbounded and carries a nil Expiry.
type Entitlement struct {
	ID        int64      `json:"id"`
	AccountID string     `json:"accountId"`
	TitleID   string     `json:"titleId"`
	Mode      Mode       `json:"mode"`
	GrantedAt time.Time  `json:"grantedAt"`
	Expiry    *time.Time `json:"expiry,omitempty"`
}

// Active reports whether the entitlement still grants access at the given time.
func (e Entitlement) Active(now time.Time) bool {
	return e.Expiry == nil || e.Expiry.After(now)
}

// WalletCredit is one settled top-up recorded against an account balance.
type WalletCredit struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"accountId"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transactionId"`
	CreditedAt    time.Time `json:"creditedAt"`
}
