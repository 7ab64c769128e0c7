package api

import (
	"net/http"

	"github.com/triage-ai/cloak/internal/guard"
	"github.com/triage-ai/cloak/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Guard      *guard.Orchestrator
	Registry   *guard.Registry
	Invoker    guard.Invoker
	Writer     storage.EventWriter
	Logger     *zap.Logger
	APIKeyHash string // bcrypt hash of the csk_ API key; empty disables auth
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Guard contract (auth required via Bearer csk_ token)
	mux.HandleFunc("POST /v1/mask", deps.authMiddleware(deps.handleMask))
	mux.HandleFunc("POST /v1/restore", deps.authMiddleware(deps.handleRestore))
	mux.HandleFunc("POST /v1/scrub", deps.authMiddleware(deps.handleScrub))

	// Session lifecycle
	mux.HandleFunc("POST /v1/sessions", deps.authMiddleware(deps.handleCreateSession))
	mux.HandleFunc("POST /v1/sessions/{session_id}/toolcalls", deps.authMiddleware(deps.handleToolCalls))
	mux.HandleFunc("POST /v1/sessions/{session_id}/finalize", deps.authMiddleware(deps.handleFinalize))
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", deps.authMiddleware(deps.handlePurgeSession))

	// Tool schema registry
	mux.HandleFunc("POST /api/cloak/tools", deps.handleRegisterTool)
	mux.HandleFunc("GET /api/cloak/tools", deps.handleListTools)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
