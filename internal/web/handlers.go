package web

import (
	"encoding/json"
	"net/http"

	"zigbeeween/internal/gateway"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.gw.Snapshot()
	s.renderTemplate(w, "index.html", map[string]interface{}{
		"Now":       snap.Time.Format("2006-01-02 15:04:05"),
		"Motion":    snap.PIRMotion,
		"Tombstone": snap.Tombstone,
		"Scarecrow": snap.Scarecrow,
		"Events":    snap.Events,
	})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gw.Snapshot())
}

func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gw.Snapshot().Events)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	target, err := gateway.ParseTarget(r.PathValue("device"))
	if err != nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if err := s.gw.Trigger(target); err != nil {
		s.logger.Error("manual trigger", "target", string(target), "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// Plain form posts from the status page bounce back to it.
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
