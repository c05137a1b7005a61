// Package api implements the REST control plane: the versioned
// /api/v0/ surface through which operators and agents create and
// drive sandboxes, tasks, responses, and snapshots.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/raworc/tsbx/pkg/auth"
	"github.com/raworc/tsbx/pkg/database"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/rbac"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
	"github.com/raworc/tsbx/pkg/version"
)

// Server is the HTTP API server fronting the state store, the sandbox
// manager, and the queue — it never talks to the container runtime or
// an inference provider directly; those belong to D and E.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store      *store.Store
	dbClient   *database.Client
	sandboxMgr *sandbox.Manager
	verifier   *auth.Verifier
	evaluator  *rbac.Evaluator
	dispatcher *queue.Dispatcher // nil if this process doesn't also run workers

	responseWaitTimeout time.Duration
}

// NewServer wires an echo.Echo instance against the given collaborators
// and registers every route.
func NewServer(s *store.Store, dbClient *database.Client, sandboxMgr *sandbox.Manager, verifier *auth.Verifier, evaluator *rbac.Evaluator) *Server {
	e := echo.New()
	srv := &Server{
		echo:                e,
		store:               s,
		dbClient:            dbClient,
		sandboxMgr:          sandboxMgr,
		verifier:            verifier,
		evaluator:           evaluator,
		responseWaitTimeout: 15 * time.Minute,
	}
	srv.setupRoutes()
	return srv
}

// SetDispatcher attaches the in-process dispatcher (when the API
// process also runs D's workers) so /version and a future health
// endpoint can report queue depth. Optional: nil is a valid, common
// deployment where D runs as a separate process.
func (s *Server) SetDispatcher(d *queue.Dispatcher) {
	s.dispatcher = d
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/version", s.versionHandler)
	s.echo.POST("/auth/operators/:name/login", s.loginHandler)

	authed := s.echo.Group("", s.authMiddleware())
	authed.GET("/auth", s.currentPrincipalHandler)
	authed.POST("/auth/token", s.mintTokenHandler)

	v0 := s.echo.Group("/api/v0", s.authMiddleware())
	v0.GET("/sandboxes", s.listSandboxesHandler)
	v0.POST("/sandboxes", s.createSandboxHandler)
	v0.GET("/sandboxes/:name", s.getSandboxHandler)
	v0.PUT("/sandboxes/:name", s.updateSandboxHandler)
	v0.DELETE("/sandboxes/:name", s.deleteSandboxHandler)
	v0.PUT("/sandboxes/:name/state", s.setSandboxStateHandler)
	v0.POST("/sandboxes/:name/state/busy", s.markBusyHandler)
	v0.POST("/sandboxes/:name/state/idle", s.markIdleHandler)

	v0.GET("/sandboxes/:name/tasks", s.listTasksHandler)
	v0.POST("/sandboxes/:name/tasks", s.createTaskHandler)
	v0.GET("/sandboxes/:name/tasks/count", s.countTasksHandler)
	v0.GET("/sandboxes/:name/tasks/:id", s.getTaskHandler)
	v0.PUT("/sandboxes/:name/tasks/:id", s.updateTaskHandler)
	v0.POST("/sandboxes/:name/tasks/:id/cancel", s.cancelTaskHandler)

	v0.GET("/snapshots", s.listSnapshotsHandler)
	v0.GET("/snapshots/:id", s.getSnapshotHandler)
	v0.DELETE("/snapshots/:id", s.deleteSnapshotHandler)
	v0.POST("/snapshots/:id/create", s.createSandboxFromSnapshotHandler)
	v0.POST("/sandboxes/:name/snapshots", s.createSnapshotHandler)

	v0.GET("/agents/:name/responses", s.listResponsesHandler)
	v0.POST("/agents/:name/responses", s.createResponseHandler)
	v0.GET("/agents/:name/responses/count", s.countResponsesHandler)
	v0.GET("/agents/:name/responses/:id", s.getResponseHandler)
	v0.PUT("/agents/:name/responses/:id", s.updateResponseHandler)
}

// Start serves on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests
// that want a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type versionResponse struct {
	Version string `json:"version"`
	API     string `json:"api"`
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &versionResponse{Version: version.Full(), API: "v0"})
}
