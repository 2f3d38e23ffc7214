package models

import "time"

// Mode is the kind of commitment a purchase intent represents.
type Mode string

const (
	ModeRental    Mode = "RENTAL"
	ModeOwnership Mode = "EST" // "own for life", the upstream purchase_type value
	ModeTopUp     Mode = "TOPUP"
)

// SourceContext identifies where in the storefront a purchase started.
// It determines whether the charge amount is caller-supplied or resolved
// by the payment gate before submission.
type SourceContext string

const (
	SourceCatalogDetail    SourceContext = "CatalogDetail"
	SourceCollection       SourceContext = "Collection"
	SourceScreeningRequest SourceContext = "ScreeningRequest"
)

// PurchaseIntent captures a committed purchase action. Intents are consumed
// once by the orchestrator and never mutated; a retry is a new intent.
type PurchaseIntent struct {
	TitleID   string        `json:"titleId"`
	TitleRef  string        `json:"titleRef"`
	Mode      Mode          `json:"mode"`
	AccountID string        `json:"accountId"`
	Source    SourceContext `json:"source"`
}

// Key returns the in-flight marker key for the (account, intent) pair.
func (p PurchaseIntent) Key() string {
	return p.AccountID + ":" + string(p.Mode) + ":" + p.TitleRef
}

// ProviderKind selects the protocol a payment method is driven through.
type ProviderKind string

const (
	ProviderMobileMoney ProviderKind = "MOBILE_MONEY"
	ProviderCard        ProviderKind = "CARD"
	ProviderWallet      ProviderKind = "WALLET"
	ProviderSpecific    ProviderKind = "PROVIDER_SPECIFIC"
)

// PaymentMethod is one entry of a registry response. Not persisted.
type PaymentMethod struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	LogoURL  string       `json:"logo,omitempty"`
	Color    string       `json:"color,omitempty"`
	Provider ProviderKind `json:"provider"`
}

// TransactionState is one step of the orchestrator state machine.
type TransactionState string

const (
	TxCreated              TransactionState = "CREATED"
	TxSubmitting           TransactionState = "SUBMITTING"
	TxAwaitingConfirmation TransactionState = "AWAITING_CONFIRMATION"
	TxSettled              TransactionState = "SETTLED"
	TxFailed               TransactionState = "FAILED"
)

// Terminal reports whether the state accepts no further transitions.
func (s TransactionState) Terminal() bool {
	return s == TxSettled || s == TxFailed
}

// Transaction is one attempt to drive a purchase intent through a payment
// method. Amounts are positive integers in currency minor units.
type Transaction struct {
	ID          string           `json:"id"`
	Intent      PurchaseIntent   `json:"intent"`
	MethodID    string           `json:"methodId"`
	Amount      int64            `json:"amount"`
	State       TransactionState `json:"state"`
	ProviderRef string           `json:"providerRef,omitempty"`
	FailKind    string           `json:"failKind,omitempty"`
	FailTail    string           `json:"failDetail,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
