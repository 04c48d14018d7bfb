// Package server wires the router and owns the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/janisto/message-server/internal/config"
	"github.com/janisto/message-server/internal/http/message"
	applog "github.com/janisto/message-server/internal/platform/logging"
	appmiddleware "github.com/janisto/message-server/internal/platform/middleware"
	"github.com/janisto/message-server/internal/platform/respond"
)

// ShutdownTimeout bounds how long in-flight requests may finish after Run's context ends.
const ShutdownTimeout = 10 * time.Second

// Router builds the handler chain serving cfg.Message.
func Router(cfg config.Config) http.Handler {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler(message.AllowedMethods...))

	router.Use(
		appmiddleware.Security(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Forwarded-For; deploy behind a trusted proxy only.
		chimiddleware.RealIP,
		applog.RequestLogger(),
		applog.AccessLogger(),
		respond.Recoverer(),
		chimiddleware.GetHead,
	)

	message.Register(router, cfg.Message)
	return router
}

// New returns an http.Server for cfg with conservative timeouts.
func New(cfg config.Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           Router(cfg),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10, // 64 KB
	}
}

// Listen binds addr eagerly so a port already in use fails before anything is served.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Run serves on ln until ctx is done, then shuts srv down gracefully.
// It returns nil after a clean shutdown and the serve error otherwise.
func Run(ctx context.Context, srv *http.Server, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	applog.LogInfo(context.Background(), "shutdown signal received", zap.String("addr", ln.Addr().String()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
