package web

import (
	"encoding/json"
	"net/http"

	"zigbeeween/internal/automation"
)

const maxScriptBody = 1 << 20

func (s *Server) apiError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// scriptsAvailable guards the script CRUD routes on a server built
// without an automation manager.
func (s *Server) scriptsAvailable(w http.ResponseWriter) bool {
	if s.scriptMgr == nil {
		s.apiError(w, http.StatusInternalServerError, "automations not available")
		return false
	}
	return true
}

func (s *Server) decodeScriptBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.apiError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// syncEngine brings the running VM for a script in line with its stored
// enabled flag.
func (s *Server) syncEngine(script *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if err := s.autoEngine.ReloadScript(script.ID); err != nil {
		s.logger.Error("reload script", "id", script.ID, "err", err)
	}
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.apiError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.apiError(w, http.StatusNotFound, "not found")
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.apiError(w, http.StatusNotFound, "script not found")
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

// saveAutomationRequest carries script metadata and code in one flat
// payload.
type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (req saveAutomationRequest) apply(script *automation.Script) {
	script.Meta.Name = req.Name
	script.Meta.Description = req.Description
	script.Meta.Enabled = req.Enabled
	script.LuaCode = req.LuaCode
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	var req saveAutomationRequest
	if !s.decodeScriptBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.apiError(w, http.StatusBadRequest, "name is required")
		return
	}

	script := &automation.Script{}
	req.apply(script)
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.apiError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.apiError(w, http.StatusNotFound, "script not found")
		return
	}
	var req saveAutomationRequest
	if !s.decodeScriptBody(w, r, &req) {
		return
	}

	req.apply(script)
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("update script", "err", err)
		s.apiError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		s.logger.Error("delete script", "err", err)
		s.apiError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.scriptsAvailable(w) {
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.apiError(w, http.StatusNotFound, "script not found")
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("toggle script", "err", err)
		s.apiError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.apiError(w, http.StatusInternalServerError, "automation engine not available")
		return
	}
	id := r.PathValue("id")

	// "_inline" runs ad-hoc Lua from the request body
	if id == "_inline" {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		if !s.decodeScriptBody(w, r, &req) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}
