package gate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lumichat/gateserver/logger"
)

// Listener owns the bound TCP acceptor and the HTTP server on top of it.
// Start and Stop are idempotent; Stop drains in-flight requests before
// returning.
type Listener struct {
	log     *logger.Logger
	handler http.Handler

	mu      sync.Mutex
	srv     *http.Server
	addr    string
	running bool
}

// NewListener creates a stopped Listener serving handler.
func NewListener(handler http.Handler, log *logger.Logger) *Listener {
	return &Listener{log: log, handler: handler}
}

// Start binds addr and begins accepting.  A bind failure is fatal and
// returned; accept errors after a successful bind are handled inside
// net/http's serve loop.  Starting a running listener is a no-op.
func (l *Listener) Start(addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gate: listen %s: %w", addr, err)
	}

	l.srv = &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.addr = ln.Addr().String()
	l.running = true

	srv := l.srv
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Errorf("gate: serve: %v", err)
		}
	}()

	l.log.Infof("gate: listening on %s", l.addr)
	return nil
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// requests.  Stopping a stopped listener is a no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.srv.Shutdown(ctx); err != nil {
		l.log.Warnf("gate: shutdown: %v", err)
	}
	l.log.Info("gate: listener stopped")
}

// Running reports whether the listener is accepting.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Addr returns the bound address, useful when Start was given port 0.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}
