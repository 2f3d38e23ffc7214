package database

import (
	"database/sql"
	"fmt"
	"time"

	"filamu/models"
)

// Repository provides access to entitlement, transaction and wallet rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertEntitlement inserts or replaces the entitlement for the
// (account, title, mode) key and returns the stored row. Re-granting an
// existing entitlement extends it rather than duplicating it.
func (r *Repository) UpsertEntitlement(accountID, titleID string, mode models.Mode, grantedAt time.Time, expiry *time.Time) (*models.Entitlement, error) {
	_, err := r.db.Exec(`
		INSERT INTO entitlements (account_id, title_id, mode, granted_at, expiry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, title_id, mode)
		DO UPDATE SET granted_at = excluded.granted_at, expiry = excluded.expiry`,
		accountID, titleID, string(mode), grantedAt, expiry)
	if err != nil {
		return nil, fmt.Errorf("upsert entitlement: %w", err)
	}

	return r.GetEntitlement(accountID, titleID, mode)
}

// GetEntitlement returns the entitlement for the key, or nil when absent.
func (r *Repository) GetEntitlement(accountID, titleID string, mode models.Mode) (*models.Entitlement, error) {
	row := r.db.QueryRow(`
		SELECT id, account_id, title_id, mode, granted_at, expiry
		FROM entitlements
		WHERE account_id = ? AND title_id = ? AND mode = ?`,
		accountID, titleID, string(mode))

	ent, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return ent, nil
}

// ListEntitlements returns all entitlements for an account, newest first.
func (r *Repository) ListEntitlements(accountID string) ([]models.Entitlement, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, title_id, mode, granted_at, expiry
		FROM entitlements
		WHERE account_id = ?
		ORDER BY granted_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var ents []models.Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		ents = append(ents, *ent)
	}
	return ents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (*models.Entitlement, error) {
	var ent models.Entitlement
	var mode string
	var expiry sql.NullTime
	if err := row.Scan(&ent.ID, &ent.AccountID, &ent.TitleID, &mode, &ent.GrantedAt, &expiry); err != nil {
		return nil, err
	}
	ent.Mode = models.Mode(mode)
	if expiry.Valid {
		t := expiry.Time
		ent.Expiry = &t
	}
	return &ent, nil
}

// InsertTransaction records a freshly created transaction.
func (r *Repository) InsertTransaction(tx *models.Transaction) error {
	_, err := r.db.Exec(`
		INSERT INTO transactions (id, account_id, title_id, title_ref, mode, source, method_id, amount, state, provider_ref, fail_kind, fail_detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Intent.AccountID, tx.Intent.TitleID, tx.Intent.TitleRef, string(tx.Intent.Mode), string(tx.Intent.Source),
		tx.MethodID, tx.Amount, string(tx.State), tx.ProviderRef, tx.FailKind, tx.FailTail, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransactionState advances a persisted transaction to a new state.
func (r *Repository) UpdateTransactionState(tx *models.Transaction) error {
	res, err := r.db.Exec(`
		UPDATE transactions
		SET state = ?, provider_ref = ?, fail_kind = ?, fail_detail = ?, updated_at = ?
		WHERE id = ?`,
		string(tx.State), tx.ProviderRef, tx.FailKind, tx.FailTail, tx.UpdatedAt, tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("update transaction: id %q not found", tx.ID)
	}
	return nil
}

// GetTransaction returns a persisted transaction, or nil when absent.
func (r *Repository) GetTransaction(id string) (*models.Transaction, error) {
	row := r.db.QueryRow(`
		SELECT id, account_id, title_id, title_ref, mode, source, method_id, amount, state, provider_ref, fail_kind, fail_detail, created_at, updated_at
		FROM transactions
		WHERE id = ?`, id)

	var tx models.Transaction
	var mode, source, state string
	var providerRef, failKind, failDetail sql.NullString
	err := row.Scan(&tx.ID, &tx.Intent.AccountID, &tx.Intent.TitleID, &tx.Intent.TitleRef, &mode, &source,
		&tx.MethodID, &tx.Amount, &state, &providerRef, &failKind, &failDetail, &tx.CreatedAt, &tx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	tx.Intent.Mode = models.Mode(mode)
	tx.Intent.Source = models.SourceContext(source)
	tx.State = models.TransactionState(state)
	tx.ProviderRef = providerRef.String
	tx.FailKind = failKind.String
	tx.FailTail = failDetail.String
	return &tx, nil
}

// InsertWalletCredit records a settled top-up against the account balance.
func (r *Repository) InsertWalletCredit(accountID string, amount int64, transactionID string, creditedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO wallet_credits (account_id, amount, transaction_id, credited_at)
		VALUES (?, ?, ?, ?)`,
		accountID, amount, transactionID, creditedAt)
	if err != nil {
		return fmt.Errorf("insert wallet credit: %w", err)
	}
	return nil
}

// WalletBalance sums all credits recorded for an account.
func (r *Repository) WalletBalance(accountID string) (int64, error) {
	var balance sql.NullInt64
	err := r.db.QueryRow(`SELECT SUM(amount) FROM wallet_credits WHERE account_id = ?`, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("wallet balance: %w", err)
	}
	return balance.Int64, nil
}
