// ABOUTME: Server orchestrator that wires the supervisor, ledger, event fan-out and HTTP API
// ABOUTME: Listens on TCP or a tailnet node and shuts everything down in order

package server

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/api"
	"github.com/2389/coven-swarm/internal/auth"
	"github.com/2389/coven-swarm/internal/config"
	"github.com/2389/coven-swarm/internal/events"
	"github.com/2389/coven-swarm/internal/executor"
	"github.com/2389/coven-swarm/internal/store"
	"github.com/2389/coven-swarm/internal/sysstats"
)

// Server owns every long-lived component of coven-swarm.
type Server struct {
	config      *config.Config
	manager     *agent.Manager
	store       store.Store // nil when the ledger is disabled
	events      *events.Broadcaster
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the ledger, or returns nil when database.path is empty.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// buildExecutors registers one executor per configured agent type. Types
// without an entry fall back to an Echo executor.
func buildExecutors(cfg *config.Config, logger *slog.Logger) (*executor.Registry, error) {
	registry := executor.NewRegistry(executor.Echo{})

	names := make([]string, 0, len(cfg.Executors))
	for name := range cfg.Executors {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		ec := cfg.Executors[name]
		switch ec.Kind {
		case config.ExecutorEcho:
			registry.Register(name, executor.Echo{Prefix: ec.Prefix})
		case config.ExecutorCommand:
			registry.Register(name, &executor.Command{
				Path:    ec.Command,
				Args:    ec.Args,
				Dir:     ec.Dir,
				Env:     ec.Env,
				Timeout: ec.Timeout,
				Logger:  logger.With("executor", name),
			})
		case config.ExecutorSearch:
			s := executor.NewSearch(ec.BaseURL, ec.Timeout, logger.With("executor", name))
			if ec.Count > 0 {
				s.Count = ec.Count
			}
			registry.Register(name, s)
		default:
			return nil, fmt.Errorf("executor %q: unknown kind %q", name, ec.Kind)
		}
		logger.Debug("registered executor", "type", name, "kind", ec.Kind)
	}
	return registry, nil
}

// authMiddleware picks token auth when a secret is configured.
func authMiddleware(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, API is unauthenticated")
		return auth.AnonymousMiddleware()
	}
	return auth.HTTPAuthMiddleware(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)))
}

// New creates a Server with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := buildExecutors(cfg, logger)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}

	broadcaster := events.NewBroadcaster(logger)
	recorders := agent.Recorders{broadcaster}
	var history api.History
	if st != nil {
		recorders = append(recorders, store.NewRecorder(st, logger))
		history = st
	} else {
		logger.Info("database.path empty, lifecycle ledger disabled")
	}

	mgr := agent.NewManager(agent.ManagerParams{
		Config:    cfg.Supervisor.AgentConfig(),
		Executors: registry,
		Sink:      agent.NewLogSink(logger),
		Sampler:   sysstats.New(),
		Recorder:  recorders,
		Logger:    logger,
	})

	s := &Server{
		config:  cfg,
		manager: mgr,
		store:   st,
		events:  broadcaster,
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	api.New(api.Params{
		Supervisor: mgr,
		History:    history,
		Events:     broadcaster,
		Logger:     logger,
	}).Register(mux, authMiddleware(cfg, logger))

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Manager returns the agent supervisor.
func (s *Server) Manager() *agent.Manager {
	return s.manager
}

// setupListener creates the HTTP listener (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting server", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the supervisor and the HTTP server and blocks until ctx is
// canceled or the HTTP server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return errors.Join(err, s.closeResources())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.manager.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("context canceled, initiating shutdown")
		return s.gracefulShutdown()
	})

	err = g.Wait()
	if closeErr := s.closeResources(); err == nil {
		err = closeErr
	}
	return err
}

// gracefulShutdown stops the HTTP server with a fresh context and timeout.
// The original context is already canceled at this point.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeResources releases everything after the servers have stopped. The
// manager goes first so its final stop events still reach the ledger.
func (s *Server) closeResources() error {
	s.logger.Info("shutting down server")
	s.manager.Close()
	s.events.Close()

	var errs []error
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	if s.store != nil {
		errs = appendCloseError(errs, "store close", s.store.Close())
	}
	return errors.Join(errs...)
}

// tailscaleStateDir returns the node state directory, defaulting to a
// per-user location so restarts reuse the same tailnet identity.
func tailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating tailscale state (set tailscale.state_dir): %w", err)
	}
	return filepath.Join(home, ".local", "share", "coven-swarm", "tailscale"), nil
}

// tailscaleAuthKey picks the key used to join the tailnet. A persistent node
// that has already joined restarts from its saved state without one;
// ephemeral nodes join afresh every start and always need it.
func tailscaleAuthKey(ts config.TailscaleConfig, stateDir string) (string, error) {
	if key := cmp.Or(ts.AuthKey, os.Getenv("TS_AUTHKEY")); key != "" {
		return key, nil
	}
	if !ts.Ephemeral {
		if _, err := os.Stat(filepath.Join(stateDir, "tailscaled.state")); err == nil {
			return "", nil
		}
	}
	return "", fmt.Errorf("node %q has not joined the tailnet yet: set tailscale.auth_key or TS_AUTHKEY", ts.Hostname)
}

// setupTailscaleListener joins the tailnet and listens on the node at
// TailscaleConfig.ListenAddr, the address clients derive from BaseURL.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	ts := s.config.Tailscale

	stateDir, err := tailscaleStateDir(ts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := tailscaleAuthKey(ts, stateDir)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       stateDir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
		Logf: func(format string, args ...any) {
			s.logger.Debug(fmt.Sprintf(format, args...), "source", "tsnet")
		},
	}

	s.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", stateDir, "ephemeral", ts.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("joining tailnet as %q: %w", ts.Hostname, err)
	}
	s.logTailnetNode(status)

	ln, err := s.tsnetServer.Listen("tcp", ts.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("listening on tailnet %s: %w", ts.ListenAddr(), err)
	}
	if !ts.HTTPS {
		return ln, nil
	}

	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("tailnet certificates: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (s *Server) logTailnetNode(status *ipnstate.Status) {
	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailnet node ready", "url", s.config.Tailscale.BaseURL(), "tailscale_ip", ip, "dns_name", dnsName)
}
