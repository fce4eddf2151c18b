package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bankscout/bankscout/engine/pipeline"
	"github.com/bankscout/bankscout/pkg/metrics"
	"github.com/bankscout/bankscout/pkg/mid"
)

// status keeps the latest report per source for the status endpoint.
type status struct {
	mu     sync.RWMutex
	latest map[string]*pipeline.Report
}

func newStatus() *status {
	return &status{latest: make(map[string]*pipeline.Report)}
}

func (s *status) record(r *pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[r.Source] = r
}

func (s *status) reports() []*pipeline.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pipeline.Report, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (s *status) handleLatest(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]any{"reports": s.reports()})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusHandler(s *status, met *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /reports/latest", s.handleLatest)
	mux.Handle("GET /metrics", met.Handler())

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger, "/healthz", "/metrics"),
		mid.OTel("bankscout-collector"),
	)
}

func serveStatus(port int, s *status, met *metrics.Registry, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      statusHandler(s, met, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("status server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server", "err", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("status server shutdown", "err", err)
	}
}
