package api

import (
	"net/http"

	"github.com/ernie/mcauth/internal/auth"
	"github.com/ernie/mcauth/internal/linking"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux    *http.ServeMux
	engine *linking.Engine
	auth   *auth.Service
	wsHub  *WebSocketHub
}

// NewRouter creates a new HTTP router. Every authenticated route runs the
// same pipeline: request logging, bearer authentication, body validation
// and finally the handler.
func NewRouter(engine *linking.Engine, authService *auth.Service, hub *WebSocketHub) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		engine: engine,
		auth:   authService,
		wsHub:  hub,
	}

	// Game server
	r.handle("POST /isValidPlayer", auth.ScopePlayer, validated(parseIsValidPlayer, r.handleIsValidPlayer))

	// Alt management
	r.handle("POST /newAlt", auth.ScopeAdmin, validated(parseNewAlt, r.handleNewAlt))
	r.handle("DELETE /delAlt", auth.ScopeAdmin, validated(parseDelAlt, r.handleDelAlt))
	r.handle("GET /getAltsOf/{owner}", auth.ScopeAdmin, r.handleGetAltsOf)

	// Admin event stream
	r.handle("GET /ws/events", auth.ScopeAdmin, r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

func (r *Router) handle(pattern string, scope auth.Scope, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, logRequest(r.requireScope(scope, h)))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
