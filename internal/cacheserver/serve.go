package cacheserver

import (
	"context"
	"net/http"
	"time"

	"github.com/polykit-dev/polykit/internal/signals"
)

// Run starts an HTTP server for s on addr and blocks until watcher observes
// a termination signal, at which point it drains in-flight requests and
// returns, per spec.md §4.6 "Graceful shutdown drains in-flight requests on
// SIGTERM/SIGINT".
func Run(addr string, s *Server, watcher *signals.Watcher) error {
	httpServer := &http.Server{Addr: addr, Handler: s}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	watcher.AddOnClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	})

	select {
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-watcher.Done():
		return nil
	}
}
