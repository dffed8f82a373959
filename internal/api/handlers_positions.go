package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	positions, err := s.positions.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, positions)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	id := mux.Vars(r)["id"]

	p, err := s.positions.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := requireOwner(identity, p.UserID); err != nil {
		respondErr(w, err)
		return
	}

	// The manager owns the live position state; the sell runs through the
	// same serialized path as automatic exits.
	if err := s.closer.CloseManual(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}

	log.Info().
		Str("position_id", id).
		Str("user_id", identity.UserID).
		Msg("manual close requested")

	respondData(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "selling",
	})
}
