package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 5 * time.Second

// NodeControl is the part of the node the portal reads and drives.
type NodeControl interface {
	Snapshot() node.Snapshot
	TriggerReset(reason string) error
	TriggerFactoryReset() error
}

// SettingsStore is the settings surface the portal edits.
type SettingsStore interface {
	Snapshot() settings.Settings
	Update(ctx context.Context, in settings.Settings) (settings.ChangeSet, error)
	PortalAuthRequired() bool
	VerifyPortalLogin(username, password string) (bool, error)
}

// Deps holds the dependencies required by the portal.
type Deps struct {
	Config   config.PortalConfig
	Logger   *logging.Logger
	Node     NodeControl
	Settings SettingsStore
	Metrics  http.Handler // optional
	Version  string

	// UIDir serves the settings page from disk instead of the embedded copy.
	UIDir string
}

// Server is the configuration portal HTTP server.
type Server struct {
	cfg      config.PortalConfig
	logger   *logging.Logger
	node     NodeControl
	settings SettingsStore
	metrics  http.Handler
	version  string
	uiDir    string

	hub     *Hub
	tickets *ticketStore
	server  *http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a portal server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Node == nil {
		return nil, fmt.Errorf("node is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Server{
		cfg:      deps.Config,
		logger:   logger,
		node:     deps.Node,
		settings: deps.Settings,
		metrics:  deps.Metrics,
		version:  deps.Version,
		uiDir:    deps.UIDir,
		hub:      NewHub(logger),
		tickets:  newTicketStore(),
	}, nil
}

// Publish forwards a node event to WebSocket clients. It has the
// node.Observer signature and never blocks.
func (s *Server) Publish(e node.Event) {
	s.hub.Broadcast(e)
}

// Handler returns the portal's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.tickets.cleanLoop(srvCtx)
	}()

	go func() {
		s.logger.Info("portal listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("portal server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the portal.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("portal shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down portal: %w", err)
	}
	return nil
}
