package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ernie/mcauth/internal/domain"
	log "github.com/sirupsen/logrus"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeAPIError writes an error body and logs it against the request
func writeAPIError(w http.ResponseWriter, req *http.Request, apiErr *apiError) {
	requestLogger(req).WithField("errcode", apiErr.Code).Debug("Request failed")
	writeJSON(w, apiErr.Status, apiErr)
}

// writeInternalError logs an unexpected failure and answers with a 500
func writeInternalError(w http.ResponseWriter, req *http.Request, err error) {
	requestLogger(req).WithError(err).Error("Internal error")
	writeJSON(w, errInternal.Status, errInternal)
}

// validResponse answers the game server
type validResponse struct {
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
	AuthCode string `json:"auth_code,omitempty"`
}

func responseFor(d domain.Decision) validResponse {
	switch d.Verdict {
	case domain.VerdictAuthorized:
		return validResponse{Valid: true}
	case domain.VerdictNotLinked:
		return validResponse{Reason: "auth_code", AuthCode: d.AuthCode}
	default:
		return validResponse{Reason: d.Verdict.String()}
	}
}

// handleIsValidPlayer decides whether a game identity may join
func (r *Router) handleIsValidPlayer(w http.ResponseWriter, req *http.Request, body isValidPlayerRequest) {
	d, err := r.engine.Decide(req.Context(), body.PlayerID)
	if err != nil {
		writeInternalError(w, req, err)
		return
	}

	requestLogger(req).WithFields(log.Fields{
		"game_id": d.GameID,
		"verdict": d.Verdict.String(),
		"alt":     d.ViaAlt,
	}).Info("Player decision")
	writeJSON(w, http.StatusOK, responseFor(d))
}

// handleNewAlt whitelists a player as an alt of owner
func (r *Router) handleNewAlt(w http.ResponseWriter, req *http.Request, body newAltRequest) {
	alt, err := r.engine.AddAlt(req.Context(), body.Owner, body.PlayerName)
	switch {
	case errors.Is(err, domain.ErrUnknownPlayer):
		writeAPIError(w, req, errInvalidOwner)
	case errors.Is(err, domain.ErrConflict):
		writeAPIError(w, req, errAltAdded)
	case err != nil:
		writeInternalError(w, req, err)
	default:
		writeJSON(w, http.StatusOK, alt)
	}
}

// handleDelAlt removes an alt by player name
func (r *Router) handleDelAlt(w http.ResponseWriter, req *http.Request, body delAltRequest) {
	removed, err := r.engine.RemoveAlt(req.Context(), body.PlayerName)
	if err != nil {
		writeInternalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_deleted": removed})
}

// handleGetAltsOf lists the alts of an owner
func (r *Router) handleGetAltsOf(w http.ResponseWriter, req *http.Request) {
	owner := strings.TrimSpace(req.PathValue("owner"))
	if owner == "" {
		writeAPIError(w, req, errNoOwner)
		return
	}

	alts, err := r.engine.ListAlts(req.Context(), owner)
	if err != nil {
		writeInternalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.AltAccount{"alt_accs": alts})
}

// handleHealth returns a simple health check
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"maintenance": r.engine.Maintenance(),
		"ws_clients":  r.wsHub.ClientCount(),
	})
}
