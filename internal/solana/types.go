package solana

import (
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// ---------------------------------------------------------------------------
// Swap types
// ---------------------------------------------------------------------------

// SwapParams are the parameters for a token swap.
type SwapParams struct {
	InputMint   Pubkey          `json:"input_mint"`
	OutputMint  Pubkey          `json:"output_mint"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	SlippageBps int             `json:"slippage_bps"` // e.g. 100 = 1%
	PriorityFee uint64          `json:"priority_fee_lamports"`
}

// SwapResult is the result of an executed swap.
type SwapResult struct {
	Signature     Signature       `json:"signature"`
	InputMint     Pubkey          `json:"input_mint"`
	OutputMint    Pubkey          `json:"output_mint"`
	AmountIn      decimal.Decimal `json:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	NetworkFeeSOL decimal.Decimal `json:"network_fee_sol"`
	LatencyMs     int64           `json:"latency_ms"`
	Confirmed     bool            `json:"confirmed"`
}

// WalletBalance represents the balance of a wallet.
type WalletBalance struct {
	SOL    decimal.Decimal            `json:"sol"`
	Tokens map[Pubkey]decimal.Decimal `json:"tokens"` // mint -> amount
}

// SOLToLamports converts a SOL amount to lamports, truncating sub-lamport dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	return uint64(sol.Mul(decimal.NewFromInt(LamportsPerSOL)).IntPart())
}

// LamportsToSOL converts lamports to a SOL amount.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Div(decimal.NewFromInt(LamportsPerSOL))
}
