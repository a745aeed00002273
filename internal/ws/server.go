package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codefionn/colabd/internal/config"
	"github.com/codefionn/colabd/internal/logger"
	"github.com/codefionn/colabd/internal/registry"
	"github.com/codefionn/colabd/internal/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server exposes the WebSocket endpoint and the HTTP boundary.
type Server struct {
	addr       string
	httpServer *http.Server
	router     *httprouter.Router
	registry   *registry.Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

// NewServer creates a server over the given registry and dispatcher.
func NewServer(cfg *config.Config, reg *registry.Registry, dispatcher *Dispatcher) *Server {
	s := &Server{
		addr:       cfg.Addr(),
		router:     httprouter.New(),
		registry:   reg,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Admission is enforced by the join ticket, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/workspace/:id", s.handleWorkspaceInfo)
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		logger.Info("Collaboration server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	logger.Info("Stopping collaboration server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests over httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWebSocket upgrades the connection and starts the client pumps.
// Identity is established afterwards by the auth frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := newClient(conn, s.dispatcher)
	logger.Debug("Client %s connected from %s", client.id, r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// handleHealth reports process liveness and workspace counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"workspaces":  s.registry.WorkspaceCount(),
		"connections": s.registry.MemberCount(),
		"timestamp":   time.Now().UnixMilli(),
	})
}

// handleWorkspaceInfo reports the live members of one workspace.
func (s *Server) handleWorkspaceInfo(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	workspace, ok := s.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "workspace not found",
		})
		return
	}

	type userInfo struct {
		UserID string         `json:"userId"`
		Coords session.Coords `json:"coords"`
	}

	workspace.Lock()
	users := make([]userInfo, 0, len(workspace.Members))
	for _, m := range workspace.Members {
		users = append(users, userInfo{UserID: m.UserID, Coords: m.Coords})
	}
	workspace.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"workspaceId": id,
		"users":       users,
		"userCount":   len(users),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
