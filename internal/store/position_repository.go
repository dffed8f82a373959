package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/solana"
)

// PostgresPositionStore is the pgx-backed PositionStore.
type PostgresPositionStore struct {
	db *PostgresDB
}

// NewPostgresPositionStore creates a position repository.
func NewPostgresPositionStore(db *PostgresDB) *PostgresPositionStore {
	return &PostgresPositionStore{db: db}
}

func (r *PostgresPositionStore) Create(ctx context.Context, p *position.Position) error {
	plan, err := json.Marshal(p.Plan)
	if err != nil {
		return fmt.Errorf("marshal exit plan: %w", err)
	}

	query := `
		INSERT INTO positions (
			id, sniper_id, user_id, wallet_id, token_mint, pool_address, dex,
			entry_price_usd, entry_amount_sol, entry_token_amount, entry_market_cap_usd,
			current_token_amount, current_price_usd, highest_price_usd,
			pnl_pct, pnl_sol, exit_sol, cover_initials_done, plan,
			buy_signature, sell_signature, status, exit_reason, opened_at, closed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = r.db.Pool().Exec(ctx, query,
		p.ID, p.SniperID, p.UserID, p.WalletID,
		string(p.TokenMint), string(p.PoolAddress), p.DEX,
		p.EntryPriceUSD.String(), p.EntryAmountSOL.String(),
		p.EntryTokenAmount.String(), p.EntryMarketCapUSD.String(),
		p.CurrentTokenAmount.String(), p.CurrentPriceUSD.String(), p.HighestPriceUSD.String(),
		p.PnLPct, p.PnLSOL.String(), p.ExitSOL.String(), p.CoverInitialsDone, plan,
		string(p.BuySignature), string(p.SellSignature),
		string(p.Status), p.ExitReason, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

func (r *PostgresPositionStore) Update(ctx context.Context, p *position.Position) error {
	query := `
		UPDATE positions
		SET current_token_amount = $2, current_price_usd = $3, highest_price_usd = $4,
			pnl_pct = $5, pnl_sol = $6, exit_sol = $7, cover_initials_done = $8,
			sell_signature = $9, status = $10, exit_reason = $11, closed_at = $12
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		p.ID,
		p.CurrentTokenAmount.String(), p.CurrentPriceUSD.String(), p.HighestPriceUSD.String(),
		p.PnLPct, p.PnLSOL.String(), p.ExitSOL.String(), p.CoverInitialsDone,
		string(p.SellSignature), string(p.Status), p.ExitReason, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresPositionStore) Get(ctx context.Context, id string) (*position.Position, error) {
	row := r.db.Pool().QueryRow(ctx, positionSelect+` WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *PostgresPositionStore) ListOpen(ctx context.Context) ([]*position.Position, error) {
	query := positionSelect + ` WHERE status IN ($1, $2) ORDER BY opened_at`
	rows, err := r.db.Pool().Query(ctx, query,
		string(position.StatusOpen), string(position.StatusSelling))
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (r *PostgresPositionStore) ListByUser(ctx context.Context, userID string) ([]*position.Position, error) {
	query := positionSelect + ` WHERE user_id = $1 ORDER BY opened_at DESC`
	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions by user: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (r *PostgresPositionStore) ListBySniper(ctx context.Context, sniperID string) ([]*position.Position, error) {
	query := positionSelect + ` WHERE sniper_id = $1 ORDER BY opened_at DESC`
	rows, err := r.db.Pool().Query(ctx, query, sniperID)
	if err != nil {
		return nil, fmt.Errorf("list positions by sniper: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (r *PostgresPositionStore) ListClosed(ctx context.Context, limit int) ([]*position.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	query := positionSelect + ` WHERE status = $1 ORDER BY closed_at DESC LIMIT $2`
	rows, err := r.db.Pool().Query(ctx, query, string(position.StatusClosed), limit)
	if err != nil {
		return nil, fmt.Errorf("list closed positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// Numeric columns are cast to text; decimals round-trip through strings
// so no precision is lost in the driver.
const positionSelect = `
	SELECT id, sniper_id, user_id, wallet_id, token_mint, pool_address, dex,
		entry_price_usd::text, entry_amount_sol::text, entry_token_amount::text,
		entry_market_cap_usd::text, current_token_amount::text,
		current_price_usd::text, highest_price_usd::text,
		pnl_pct, pnl_sol::text, exit_sol::text, cover_initials_done, plan,
		buy_signature, sell_signature, status, exit_reason, opened_at, closed_at
	FROM positions`

func scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		p                                  position.Position
		tokenMint, poolAddress             string
		entryPrice, entryAmount, entryTok  string
		entryMcap, curTok, curPrice, highP string
		pnlSol, exitSol                    string
		plan                               []byte
		buySig, sellSig, status            string
	)
	err := row.Scan(&p.ID, &p.SniperID, &p.UserID, &p.WalletID,
		&tokenMint, &poolAddress, &p.DEX,
		&entryPrice, &entryAmount, &entryTok, &entryMcap,
		&curTok, &curPrice, &highP,
		&p.PnLPct, &pnlSol, &exitSol, &p.CoverInitialsDone, &plan,
		&buySig, &sellSig, &status, &p.ExitReason, &p.OpenedAt, &p.ClosedAt)
	if err != nil {
		return nil, err
	}

	p.TokenMint = solana.Pubkey(tokenMint)
	p.PoolAddress = solana.Pubkey(poolAddress)
	p.BuySignature = solana.Signature(buySig)
	p.SellSignature = solana.Signature(sellSig)
	p.Status = position.Status(status)

	if err := json.Unmarshal(plan, &p.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal exit plan: %w", err)
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.EntryPriceUSD, entryPrice}, {&p.EntryAmountSOL, entryAmount},
		{&p.EntryTokenAmount, entryTok}, {&p.EntryMarketCapUSD, entryMcap},
		{&p.CurrentTokenAmount, curTok}, {&p.CurrentPriceUSD, curPrice},
		{&p.HighestPriceUSD, highP}, {&p.PnLSOL, pnlSol}, {&p.ExitSOL, exitSol},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", f.src, err)
		}
		*f.dst = d
	}

	return &p, nil
}

func collectPositions(rows pgx.Rows) ([]*position.Position, error) {
	out := make([]*position.Position, 0, 16)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
