package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/solana"
)

var (
	// ErrNotFound is returned when a wallet id does not exist.
	ErrNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance is returned when a withdrawal would take the
	// wallet below the reserve floor.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// WithdrawFloorSOL is kept in every custody wallet to cover future
// network fees. A withdrawal may not dip below it.
var WithdrawFloorSOL = decimal.NewFromFloat(0.005)

// Wallet is a server-controlled custody wallet. The private key never
// leaves the signing layer; this record carries only the public address
// and the last observed balance.
type Wallet struct {
	ID      string        `json:"id"`
	UserID  string        `json:"user_id"`
	Address solana.Pubkey `json:"address"`
	Label   string        `json:"label,omitempty"`

	LastBalanceSOL decimal.Decimal `json:"last_balance_sol"`
	LastCheckedAt  time.Time       `json:"last_checked_at"`

	CreatedAt time.Time `json:"created_at"`
}

// NewWallet creates a wallet record for an existing custody address.
func NewWallet(userID string, address solana.Pubkey, label string) *Wallet {
	return &Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Address:   address,
		Label:     label,
		CreatedAt: time.Now(),
	}
}

// Repository persists wallet records.
type Repository interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]*Wallet, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, checkedAt time.Time) error
}

// TransferBuilder builds a signed SOL transfer from a custody wallet.
// The real implementation holds the keypairs; tests use the stub.
type TransferBuilder interface {
	BuildTransfer(ctx context.Context, from, to solana.Pubkey, lamports uint64) (string, error)
}

// ---------- test doubles ----------

// StubRepository is an in-memory Repository for tests and local runs.
type StubRepository struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

func NewStubRepository() *StubRepository {
	return &StubRepository{wallets: make(map[string]*Wallet)}
}

func (r *StubRepository) Create(_ context.Context, w *Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *StubRepository) Get(_ context.Context, id string) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *StubRepository) ListByUser(_ context.Context, userID string) ([]*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Wallet, 0, 4)
	for _, w := range r.wallets {
		if w.UserID == userID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *StubRepository) UpdateBalance(_ context.Context, id string, balance decimal.Decimal, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.LastBalanceSOL = balance
	w.LastCheckedAt = checkedAt
	return nil
}

// StubTransferBuilder returns canned signed transactions.
type StubTransferBuilder struct {
	mu    sync.Mutex
	built int
	Fail  bool
}

func NewStubTransferBuilder() *StubTransferBuilder {
	return &StubTransferBuilder{}
}

func (b *StubTransferBuilder) BuildTransfer(_ context.Context, _, _ solana.Pubkey, _ uint64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail {
		return "", errors.New("stub: build transfer failed")
	}
	b.built++
	return "U1RVQi1UUkFOU0ZFUg==", nil
}

func (b *StubTransferBuilder) Built() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built
}
