package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
)

// requireOwner rejects access to another user's resource. Admins pass.
func requireOwner(id Identity, resourceUserID string) error {
	if id.Admin || id.UserID == resourceUserID {
		return nil
	}
	return ErrForbidden
}

func (s *Server) handleListSnipers(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	snipers, err := s.snipers.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, snipers)
}

// CreateSniperRequest is the POST /snipers body. Snipers are created paused;
// activation is a separate toggle because it needs a balance check.
type CreateSniperRequest struct {
	WalletID string           `json:"wallet_id"`
	Name     string           `json:"name"`
	Config   sniper.Config    `json:"config"`
	Filters  sniper.FilterSet `json:"filters"`
}

func (s *Server) handleCreateSniper(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req CreateSniperRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	// The wallet must exist and belong to the caller. Custody wallets are
	// server-controlled; there is no path for attaching an external one.
	wlt, err := s.wallets.Get(r.Context(), req.WalletID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := requireOwner(identity, wlt.UserID); err != nil {
		respondErr(w, err)
		return
	}

	sn, err := sniper.New(identity.UserID, req.WalletID, req.Name, req.Config, req.Filters)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.snipers.Create(r.Context(), sn); err != nil {
		respondErr(w, err)
		return
	}

	log.Info().
		Str("sniper_id", sn.ID).
		Str("user_id", identity.UserID).
		Msg("sniper created")

	respondData(w, http.StatusCreated, sn)
}

func (s *Server) handleToggleSniper(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id := mux.Vars(r)["id"]

	sn, err := s.snipers.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := requireOwner(identity, sn.UserID); err != nil {
		respondErr(w, err)
		return
	}

	if sn.Active() {
		sn.Status = sniper.StatusPaused
	} else {
		ok, err := s.wallets.SufficientFor(r.Context(), sn.WalletID, sn.RequiredBalanceSOL())
		if err != nil {
			respondErr(w, err)
			return
		}
		if !ok {
			respondError(w, http.StatusBadRequest, ErrCodeInsufficient,
				"wallet balance below "+sn.RequiredBalanceSOL().String()+" SOL required for activation")
			return
		}
		sn.Status = sniper.StatusActive
	}
	sn.UpdatedAt = time.Now()

	if err := s.snipers.Update(r.Context(), sn); err != nil {
		respondErr(w, err)
		return
	}
	if s.matcher != nil {
		s.matcher.Upsert(sn)
	}

	log.Info().
		Str("sniper_id", sn.ID).
		Str("status", string(sn.Status)).
		Msg("sniper toggled")

	respondData(w, http.StatusOK, sn)
}

func (s *Server) handleDeleteSniper(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id := mux.Vars(r)["id"]

	sn, err := s.snipers.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := requireOwner(identity, sn.UserID); err != nil {
		respondErr(w, err)
		return
	}

	// A sniper holding non-closed positions is archived, not destroyed:
	// the position manager still needs its row for exits in flight.
	positions, err := s.positions.ListBySniper(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	holdsOpen := false
	for _, p := range positions {
		if p.Status != position.StatusClosed {
			holdsOpen = true
			break
		}
	}

	if holdsOpen {
		err = s.snipers.SoftDelete(r.Context(), id)
	} else {
		err = s.snipers.Delete(r.Context(), id)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	if s.matcher != nil {
		s.matcher.Remove(id)
	}

	log.Info().
		Str("sniper_id", id).
		Bool("soft", holdsOpen).
		Msg("sniper deleted")

	respondData(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"archived": holdsOpen,
	})
}
