package metrics

import (
	"context"
	"net"
	"net/http"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the recorder's registry
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes the registry on cfg.Listen until ctx is canceled
func (r *Recorder) Serve(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.New().WrapData(ErrServeFailed, err, cfg.Listen)
	}
	return r.serve(ctx, ln, cfg)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener, cfg Config) error {
	log := logger.Component("metrics")

	mux := http.NewServeMux()
	mux.Handle(cfg.path(), r.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: defaultReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", ln.Addr().String()).Str("path", cfg.path()).Msg("Serving metrics")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New().WrapData(ErrServeFailed, err, cfg.Listen)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(ErrServeShutdown, err)
	}
	<-errCh

	return nil
}
