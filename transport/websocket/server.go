package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tilegrid/internal/fanout"
)

const (
	RequestPath   = "/request"
	SubscribePath = "/subscribe"

	// commands are a uuid, a name and three small integers
	maxRequestSize = 4096
	bufferSize     = 1024
)

type gridManager interface {
	Handle(ctx context.Context, raw string) (string, error)
}

type hub interface {
	Subscribe(ctx context.Context) (*fanout.Subscription, error)
}

type Options struct {
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

// Server exposes the mutation service over a lock-step request socket and the fan-out hub
// over a broadcast socket.
type Server struct {
	logger   *slog.Logger
	manager  gridManager
	hub      hub
	opts     Options
	upgrader websocket.Upgrader

	conns   sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

func New(logger *slog.Logger, manager gridManager, hub hub, opts Options) *Server {
	return &Server{
		logger:  logger.With("component", "websocket"),
		manager: manager,
		hub:     hub,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

// Handler - routes for both sockets.
func (that *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(RequestPath, that.handleRequests).Methods(http.MethodGet)
	router.HandleFunc(SubscribePath, that.handleSubscribe).Methods(http.MethodGet)

	return router
}

// Start - binds addr and serves until ctx is done. A bind failure is returned immediately.
func (that *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	return that.Serve(ctx, listener)
}

// Serve - serves on listener until ctx is done, then lets in-flight requests finish.
func (that *Server) Serve(ctx context.Context, listener net.Listener) error {
	log := that.logger.With("method", "Serve")

	srv := &http.Server{
		Handler:           that.Handler(),
		ReadHeaderTimeout: that.opts.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	log.Info("websocket server listening", "addr", listener.Addr().String())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return that.shutdown(srv)
}

func (that *Server) shutdown(srv *http.Server) error {
	log := that.logger.With("method", "shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), that.opts.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	// hijacked websocket connections are not tracked by http.Server
	that.once.Do(func() { close(that.closing) })

	drained := make(chan struct{})
	go func() {
		that.conns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info("websocket server stopped")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout, connections still open")
	}

	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
