package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Serve runs h on port in the background and shuts it down when ctx ends.
// The returned channel yields the listen error, if any, and is closed once
// the server has stopped.
func Serve(ctx context.Context, name string, h http.Handler, port int) <-chan error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		logger.Infof("%s listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("%s: listen: %s", name, err)
			errs <- err
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("%s: shutdown: %s", name, err)
		}
		<-stopped
		logger.Infof("%s shutdown", name)
		close(errs)
	}()

	return errs
}
