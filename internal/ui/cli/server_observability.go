package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"hxindex/internal/engine/index"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type statsSource interface {
	Stats() index.Stats
}

type healthStatus struct {
	Status string      `json:"status"`
	Index  index.Stats `json:"index"`
}

type ObservabilityServer struct {
	addr   string
	index  statsSource
	server *http.Server
}

func NewObservabilityServer(addr string, ix statsSource) *ObservabilityServer {
	return &ObservabilityServer{
		addr:  addr,
		index: ix,
	}
}

func (s *ObservabilityServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Health reports down until a root has been indexed.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "up", Index: s.index.Stats()}
		if status.Index.Root == "" {
			status.Status = "down"
		}
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

func (s *ObservabilityServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("observability server starting", "addr", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("observability server failed", "error", err)
		}
	}()

	return nil
}

func (s *ObservabilityServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
