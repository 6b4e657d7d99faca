package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Hub        *Hub
	Controller Controller
	// Metrics serves /metrics when set.
	Metrics  http.Handler
	Warnings func() []string
	Log      logrus.FieldLogger
}

func Handler(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	registerWSRoute(mux, opts.Hub, opts.Controller, log)
	registerAPIRoutes(mux, opts.Controller, opts.Warnings, log)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("control API listening")
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
