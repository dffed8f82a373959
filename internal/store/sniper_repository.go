package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gradient-trading/gradient/internal/sniper"
)

// PostgresSniperStore is the pgx-backed SniperStore.
type PostgresSniperStore struct {
	db *PostgresDB
}

// NewPostgresSniperStore creates a sniper repository.
func NewPostgresSniperStore(db *PostgresDB) *PostgresSniperStore {
	return &PostgresSniperStore{db: db}
}

func (r *PostgresSniperStore) Create(ctx context.Context, s *sniper.Sniper) error {
	config, filters, stats, err := marshalSniperDocs(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO snipers (id, user_id, wallet_id, name, status, config, filters, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Pool().Exec(ctx, query,
		s.ID, s.UserID, s.WalletID, s.Name, string(s.Status),
		config, filters, stats, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sniper: %w", err)
	}
	return nil
}

func (r *PostgresSniperStore) Get(ctx context.Context, id string) (*sniper.Sniper, error) {
	query := sniperSelect + ` WHERE id = $1 AND deleted_at IS NULL`
	row := r.db.Pool().QueryRow(ctx, query, id)
	s, err := scanSniper(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *PostgresSniperStore) ListByUser(ctx context.Context, userID string) ([]*sniper.Sniper, error) {
	query := sniperSelect + ` WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list snipers: %w", err)
	}
	defer rows.Close()
	return collectSnipers(rows)
}

func (r *PostgresSniperStore) ListActive(ctx context.Context) ([]*sniper.Sniper, error) {
	query := sniperSelect + ` WHERE status = $1 AND deleted_at IS NULL`
	rows, err := r.db.Pool().Query(ctx, query, string(sniper.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active snipers: %w", err)
	}
	defer rows.Close()
	return collectSnipers(rows)
}

func (r *PostgresSniperStore) Update(ctx context.Context, s *sniper.Sniper) error {
	config, filters, stats, err := marshalSniperDocs(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE snipers
		SET name = $2, status = $3, config = $4, filters = $5, stats = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		s.ID, s.Name, string(s.Status), config, filters, stats, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update sniper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSniperStore) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE snipers SET deleted_at = $2, status = $3 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Pool().Exec(ctx, query, id, time.Now(), string(sniper.StatusArchived))
	if err != nil {
		return fmt.Errorf("soft delete sniper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSniperStore) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM snipers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sniper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sniperSelect = `
	SELECT id, user_id, wallet_id, name, status, config, filters, stats, created_at, updated_at
	FROM snipers`

func marshalSniperDocs(s *sniper.Sniper) (config, filters, stats []byte, err error) {
	if config, err = json.Marshal(s.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal config: %w", err)
	}
	if filters, err = json.Marshal(s.Filters); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal filters: %w", err)
	}
	if stats, err = json.Marshal(s.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal stats: %w", err)
	}
	return config, filters, stats, nil
}

func scanSniper(row pgx.Row) (*sniper.Sniper, error) {
	var (
		s       sniper.Sniper
		status  string
		config  []byte
		filters []byte
		stats   []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.WalletID, &s.Name, &status,
		&config, &filters, &stats, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = sniper.Status(status)
	if err := json.Unmarshal(config, &s.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(filters, &s.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	if err := json.Unmarshal(stats, &s.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &s, nil
}

func collectSnipers(rows pgx.Rows) ([]*sniper.Sniper, error) {
	out := make([]*sniper.Sniper, 0, 16)
	for rows.Next() {
		s, err := scanSniper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sniper: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
