package wallet

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/solana"
)

// Service exposes custody wallet operations. Balance reads are advisory:
// the authoritative check always happens on-chain at submission time, so
// the service never reserves funds, it only reports what it last saw.
type Service struct {
	repo     Repository
	rpc      solana.RPCClient
	transfer TransferBuilder

	balanceChecks atomic.Int64
	withdrawals   atomic.Int64
	failures      atomic.Int64
}

// NewService creates a wallet service.
func NewService(repo Repository, rpc solana.RPCClient, transfer TransferBuilder) *Service {
	return &Service{repo: repo, rpc: rpc, transfer: transfer}
}

// Create registers a custody wallet address for a user.
func (s *Service) Create(ctx context.Context, userID string, address solana.Pubkey, label string) (*Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}
	if address == "" {
		return nil, fmt.Errorf("missing wallet address")
	}

	w := NewWallet(userID, address, label)
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	log.Info().
		Str("wallet_id", w.ID).
		Str("user_id", userID).
		Str("address", string(address)).
		Msg("custody wallet registered")

	return w, nil
}

// Get returns a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (*Wallet, error) {
	return s.repo.Get(ctx, id)
}

// Balances returns all of a user's wallets with freshly polled SOL balances.
// An RPC failure for one wallet falls back to its last known balance.
func (s *Service) Balances(ctx context.Context, userID string) ([]*Wallet, error) {
	wallets, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	for _, w := range wallets {
		bal, err := s.refreshBalance(ctx, w)
		if err != nil {
			log.Warn().Err(err).
				Str("wallet_id", w.ID).
				Msg("balance refresh failed, serving last known")
			continue
		}
		w.LastBalanceSOL = bal
		w.LastCheckedAt = time.Now()
	}

	return wallets, nil
}

// SufficientFor reports whether the wallet can cover the given amount.
// Advisory only: the on-chain balance at submission is authoritative.
func (s *Service) SufficientFor(ctx context.Context, walletID string, required decimal.Decimal) (bool, error) {
	w, err := s.repo.Get(ctx, walletID)
	if err != nil {
		return false, err
	}

	bal, err := s.refreshBalance(ctx, w)
	if err != nil {
		// Fall back to the last persisted balance rather than blocking
		// activation on a transient RPC error.
		bal = w.LastBalanceSOL
	}

	return bal.GreaterThanOrEqual(required), nil
}

// Withdraw sends SOL from a custody wallet to an external address.
// The wallet must retain at least WithdrawFloorSOL after the transfer.
func (s *Service) Withdraw(ctx context.Context, walletID string, to solana.Pubkey, amountSOL decimal.Decimal) (solana.Signature, error) {
	if amountSOL.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("withdraw amount must be positive")
	}

	w, err := s.repo.Get(ctx, walletID)
	if err != nil {
		return "", err
	}

	bal, err := s.refreshBalance(ctx, w)
	if err != nil {
		s.failures.Add(1)
		return "", fmt.Errorf("check balance: %w", err)
	}

	if bal.Sub(amountSOL).LessThan(WithdrawFloorSOL) {
		return "", fmt.Errorf("%w: balance %s, requested %s, floor %s",
			ErrInsufficientBalance, bal, amountSOL, WithdrawFloorSOL)
	}

	tx, err := s.transfer.BuildTransfer(ctx, w.Address, to, solana.SOLToLamports(amountSOL))
	if err != nil {
		s.failures.Add(1)
		return "", fmt.Errorf("build transfer: %w", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		s.failures.Add(1)
		return "", fmt.Errorf("send transfer: %w", err)
	}

	s.withdrawals.Add(1)
	log.Info().
		Str("wallet_id", walletID).
		Str("to", string(to)).
		Str("amount_sol", amountSOL.String()).
		Str("signature", string(sig)).
		Msg("withdrawal submitted")

	return sig, nil
}

func (s *Service) refreshBalance(ctx context.Context, w *Wallet) (decimal.Decimal, error) {
	s.balanceChecks.Add(1)
	bal, err := s.rpc.GetWalletBalance(ctx, w.Address)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.repo.UpdateBalance(ctx, w.ID, bal.SOL, time.Now()); err != nil {
		log.Warn().Err(err).Str("wallet_id", w.ID).Msg("persist balance failed")
	}
	return bal.SOL, nil
}

// ServiceStats is a point-in-time snapshot of service counters.
type ServiceStats struct {
	BalanceChecks int64 `json:"balance_checks"`
	Withdrawals   int64 `json:"withdrawals"`
	Failures      int64 `json:"failures"`
}

// Stats returns a snapshot of service counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		BalanceChecks: s.balanceChecks.Load(),
		Withdrawals:   s.withdrawals.Load(),
		Failures:      s.failures.Load(),
	}
}
