package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/wallet"
)

// PostgresWalletRepository implements wallet.Repository on pgx.
type PostgresWalletRepository struct {
	db *PostgresDB
}

// NewPostgresWalletRepository creates a wallet repository.
func NewPostgresWalletRepository(db *PostgresDB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

func (r *PostgresWalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, address, label, last_balance_sol, last_checked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var checkedAt *time.Time
	if !w.LastCheckedAt.IsZero() {
		checkedAt = &w.LastCheckedAt
	}
	_, err := r.db.Pool().Exec(ctx, query,
		w.ID, w.UserID, string(w.Address), w.Label,
		w.LastBalanceSOL.String(), checkedAt, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (r *PostgresWalletRepository) Get(ctx context.Context, id string) (*wallet.Wallet, error) {
	row := r.db.Pool().QueryRow(ctx, walletSelect+` WHERE id = $1`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wallet.ErrNotFound
	}
	return w, err
}

func (r *PostgresWalletRepository) ListByUser(ctx context.Context, userID string) ([]*wallet.Wallet, error) {
	rows, err := r.db.Pool().Query(ctx, walletSelect+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	out := make([]*wallet.Wallet, 0, 4)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresWalletRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, checkedAt time.Time) error {
	query := `UPDATE wallets SET last_balance_sol = $2, last_checked_at = $3 WHERE id = $1`
	tag, err := r.db.Pool().Exec(ctx, query, id, balance.String(), checkedAt)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrNotFound
	}
	return nil
}

const walletSelect = `
	SELECT id, user_id, address, label, last_balance_sol::text, last_checked_at, created_at
	FROM wallets`

func scanWallet(row pgx.Row) (*wallet.Wallet, error) {
	var (
		w         wallet.Wallet
		address   string
		balance   string
		checkedAt *time.Time
	)
	if err := row.Scan(&w.ID, &w.UserID, &address, &w.Label, &balance, &checkedAt, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Address = solana.Pubkey(address)
	if checkedAt != nil {
		w.LastCheckedAt = *checkedAt
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	w.LastBalanceSOL = bal
	return &w, nil
}
