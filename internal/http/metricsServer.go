package http

import (
	"context"
	"encoding/json"
	"inboxsync/internal/ws"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes Prometheus metrics and a health check for a running
// session.
type MetricsServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewMetricsServer(gatherer prometheus.Gatherer, status func() ws.Status, addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", healthHandler(status))

	if addr == "" {
		addr = "localhost:9090"
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// healthHandler answers 200 while the push channel may still come back and
// 503 once it is closed or gave up.
func healthHandler(status func() ws.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := status()
		code := http.StatusOK
		if st.State.Terminal() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":   st.State.String(),
			"attempt": st.Attempt,
		})
	}
}

func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *MetricsServer) Serve(ln net.Listener) error {
	slog.Info("metrics server started", "addr", ln.Addr().String())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
