package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer exposes the registered Prometheus metrics over HTTP,
// satisfying the Server interface.
type PrometheusServer struct {
	addr string
	srv  *http.Server
}

// NewPrometheusServer builds a PrometheusServer serving the default
// registry's metrics at path on addr.
func NewPrometheusServer(addr, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &PrometheusServer{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins serving metrics. It blocks until ctx is canceled, at
// which point it shuts the HTTP server down, or until the HTTP server
// fails, in which case it returns that error.
func (p *PrometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = p.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the metrics HTTP server.
func (p *PrometheusServer) Shutdown(ctx context.Context) error {
	return p.srv.Shutdown(ctx)
}
