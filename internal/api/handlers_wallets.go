package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/solana"
)

func (s *Server) handleWalletBalances(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	wallets, err := s.wallets.Balances(r.Context(), identity.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, wallets)
}

// WithdrawRequest is the POST /wallets/{id}/withdraw body.
type WithdrawRequest struct {
	To        string          `json:"to"`
	AmountSOL decimal.Decimal `json:"amount_sol"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id := mux.Vars(r)["id"]

	var req WithdrawRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.To == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "missing destination address")
		return
	}

	wlt, err := s.wallets.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := requireOwner(identity, wlt.UserID); err != nil {
		respondErr(w, err)
		return
	}

	sig, err := s.wallets.Withdraw(r.Context(), id, solana.Pubkey(req.To), req.AmountSOL)
	if err != nil {
		respondErr(w, err)
		return
	}

	log.Info().
		Str("wallet_id", id).
		Str("amount_sol", req.AmountSOL.String()).
		Msg("withdrawal submitted")

	respondData(w, http.StatusOK, map[string]string{
		"signature": string(sig),
	})
}
