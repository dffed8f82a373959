package api

import (
	"net/http"
	"strconv"
)

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.PlatformStats(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

func (s *Server) handleTopPerformers(w http.ResponseWriter, r *http.Request) {
	performers, err := s.stats.TopPerformers(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, performers)
}

func (s *Server) handleRecentMigrations(w http.ResponseWriter, r *http.Request) {
	migrations, err := s.stats.RecentMigrations(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, migrations)
}
