// Package admin serves a small JSON API for inspecting and steering a
// running broker. It listens on its own Unix socket next to the broker
// socket and is never exposed over TCP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/hub"
	"github.com/codefionn/cylonn/internal/logger"
	"github.com/codefionn/cylonn/internal/plugin"
)

// Backend is the part of the broker the API reads and controls.
type Backend interface {
	SocketPath() string
	Clients(ctx context.Context) ([]hub.ClientInfo, error)
	Plugins() []plugin.Status
	ReloadPlugin(name string) error
	UnloadPlugin(name string) error
}

// Server provides the HTTP interface on a Unix socket
type Server struct {
	path    string
	backend Backend
	router  *httprouter.Router
	started time.Time
}

// NewServer creates a new admin server listening on path.
func NewServer(path string, backend Backend) *Server {
	s := &Server{
		path:    path,
		backend: backend,
		router:  httprouter.New(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the socket until ctx is cancelled, then shuts down and
// removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := os.Lstat(s.path); err == nil {
		return fmt.Errorf("admin socket %s already exists", s.path)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on admin socket %s: %w", s.path, err)
	}

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout5Seconds,
		ErrorLog:          logger.StdLogger(logger.Global().WithPrefix("admin"), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("admin: serving on %s", s.path)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin: shutdown: %v", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("admin: remove %s: %v", s.path, err)
	}
	logger.Info("admin: stopped")
	return nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/v1/health", s.handleHealth)
	s.router.GET("/v1/clients", s.handleClients)
	s.router.GET("/v1/plugins", s.handlePlugins)
	s.router.POST("/v1/plugins/:name/reload", s.handlePluginReload)
	s.router.POST("/v1/plugins/:name/unload", s.handlePluginUnload)

	// Profiling
	s.router.GET("/debug/pprof/*item", handlePprof)
}

// handlePprof serves /debug/pprof/<item> from net/http/pprof.
func handlePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch name := strings.TrimPrefix(ps.ByName("item"), "/"); name {
	case "":
		netpprof.Index(w, r)
	case "cmdline":
		netpprof.Cmdline(w, r)
	case "profile":
		netpprof.Profile(w, r)
	case "symbol":
		netpprof.Symbol(w, r)
	case "trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Handler(name).ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"socket": s.backend.SocketPath(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), consts.Timeout5Seconds)
	defer cancel()

	clients, err := s.backend.Clients(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.backend.Plugins())
}

func (s *Server) handlePluginReload(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.pluginAction(w, ps.ByName("name"), "reloaded", s.backend.ReloadPlugin)
}

func (s *Server) handlePluginUnload(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.pluginAction(w, ps.ByName("name"), "unloaded", s.backend.UnloadPlugin)
}

func (s *Server) pluginAction(w http.ResponseWriter, name, done string, action func(string) error) {
	if err := action(name); err != nil {
		status := http.StatusInternalServerError
		var spawnErr *plugin.SpawnError
		switch {
		case errors.Is(err, plugin.ErrUnknownPlugin):
			status = http.StatusNotFound
		case errors.As(err, &spawnErr):
			status = http.StatusBadGateway
		}
		writeError(w, status, err)
		return
	}
	logger.Info("admin: plugin %s %s", name, done)
	writeJSON(w, http.StatusOK, map[string]string{"plugin": name, "status": done})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("admin: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
