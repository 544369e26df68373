package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/errors"
	"github.com/temoto/ttn-convert/log2"
)

type HealthFunc func() error

func NewRouter(c *Collector, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", c.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Serve runs until ctx is done. Empty addr disables the endpoint.
func Serve(ctx context.Context, log *log2.Log, addr string, h http.Handler) error {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errch := make(chan error, 1)
	go func() { errch <- srv.ListenAndServe() }()
	log.Infof("http listen=%s", addr)
	select {
	case err := <-errch:
		return errors.Annotatef(err, "http listen=%s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Annotate(srv.Shutdown(shutdownCtx), "http shutdown")
	}
}
