package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	core "github.com/acme-industrial/enms-analytics/internal/app/core/service"

	"github.com/acme-industrial/enms-analytics/infrastructure/middleware"
)

// requestTimeout is the default inbound-request deadline. Training-class
// endpoints get trainingTimeout instead.
const (
	requestTimeout  = 30 * time.Second
	trainingTimeout = 300 * time.Second
)

// maxRequestBodyBytes bounds inbound JSON bodies; nothing this API accepts
// legitimately approaches it.
const maxRequestBodyBytes = 1 << 20

// Service wraps the router built by NewRouter as a system.Service so the
// lifecycle Manager can start/stop the HTTP listener alongside the other
// long-running components.
type Service struct {
	addr   string
	router http.Handler
	drain  *middleware.DrainGate

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewService builds the HTTP service bound to addr, serving the router
// assembled from deps behind a drain gate: once Stop begins, new requests
// (health probes excepted) receive 503 while in-flight ones finish.
func NewService(addr string, deps Deps) *Service {
	drain := middleware.NewDrainGate("/health", "/livez")
	return &Service{addr: addr, router: drain.Handler(NewRouter(deps)), drain: drain}
}

func (s *Service) Name() string { return "http" }

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "http",
		Domain: "enms-analytics",
		Layer:  core.LayerFanout,
		Capabilities: []string{
			"rest-api", "websocket-fanout", "openapi",
		},
	}
}

// Start binds the listener and serves in the background. It returns once
// the socket is bound, so callers can log the real port when addr uses
// ":0".
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  requestTimeout,
		WriteTimeout: 5 * time.Minute, // covers the 300s training-endpoint deadline plus slack
		IdleTimeout:  90 * time.Second,
	}
	s.server = server
	s.running = true

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			_ = err // the manager's Stop path owns shutdown logging
		}
	}()
	return nil
}

// Stop gracefully drains in-flight requests within the context deadline,
// then forces close.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	s.drain.StartDraining()

	err := server.Shutdown(ctx)

	s.mu.Lock()
	s.running = false
	s.server = nil
	s.mu.Unlock()

	if err != nil {
		return server.Close()
	}
	return nil
}

// Addr reports the configured listen address.
func (s *Service) Addr() string {
	return s.addr
}
