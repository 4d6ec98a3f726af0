package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "tibiabot/internal/runtime/supervisor"
	logx "tibiabot/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:9464"
	DefaultPath = "/metrics"
)

// ServerConfig controls the optional metrics HTTP server. The endpoint has
// no authentication; a non-loopback Addr is served but logged as a warning.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Path    string

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

func (c ServerConfig) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

func (c ServerConfig) path() string {
	p := strings.TrimSpace(c.Path)
	switch {
	case p == "":
		return DefaultPath
	case !strings.HasPrefix(p, "/"):
		return "/" + p
	}
	return p
}

// listenerChanged reports whether moving from c to next needs a new listener.
func (c ServerConfig) listenerChanged(next ServerConfig) bool {
	return c.addr() != next.addr() || c.path() != next.path() ||
		c.ReadTimeout != next.ReadTimeout || c.IdleTimeout != next.IdleTimeout
}

// HealthFunc returns a non-nil error when /healthz should answer 503.
type HealthFunc func() error

// Server serves /metrics and /healthz. The serve loop is restarted with
// backoff if the listener fails.
type Server struct {
	log    logx.Logger
	m      *Metrics
	health HealthFunc

	mu    sync.Mutex
	cfg   ServerConfig
	sup   *rtsup.Supervisor
	bound net.Addr
}

func NewServer(cfg ServerConfig, m *Metrics, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = New()
	}
	return &Server{cfg: cfg, m: m, health: health, log: log}
}

func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address, or "" while nothing is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return ""
	}
	return s.bound.String()
}

// Reconfigure applies cfg on hot reload, starting, stopping or rebinding
// the server as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev.listenerChanged(cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is a no-op when the server is disabled or already running.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serve,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop cancels the serve loop and waits for it until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("metrics server stop timed out", logx.Err(err))
		return
	}
	s.log.Info("metrics server stopped")
}

// Handler builds the router for the given metrics path.
func (s *Server) Handler(path string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, middleware.NoCache)
	r.Handle(ServerConfig{Path: path}.path(), promhttp.HandlerFor(s.m.Registry(), promhttp.HandlerOpts{
		ErrorLog: promLogger{s.log},
	}))
	r.Get("/healthz", s.healthz)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

// serve runs one listener until ctx is cancelled. Any other return is an
// error so the supervisor rebinds.
func (s *Server) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := cfg.addr()
	if !isLoopbackAddr(addr) {
		s.log.Warn("metrics bound to non-loopback addr", logx.String("addr", addr))
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Path),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.bound = nil
		s.mu.Unlock()
	}()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("metrics server started", logx.String("addr", ln.Addr().String()), logx.String("path", cfg.path()))

	select {
	case err = <-errc:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if serr := srv.Shutdown(sctx); serr != nil {
			_ = srv.Close()
		}
		<-errc
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// promLogger adapts logx to promhttp's error log.
type promLogger struct{ log logx.Logger }

func (l promLogger) Println(v ...any) {
	l.log.Warn("metrics handler error", logx.Any("detail", v))
}
