package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"vwap-trader/internal/engine"
	"vwap-trader/internal/logger"
)

// Server exposes the engine's snapshots over JSON endpoints and an SSE
// stream for the dashboard.
type Server struct {
	eng  *engine.Engine
	hub  *Hub
	http *http.Server
}

func NewServer(addr string, eng *engine.Engine) *Server {
	s := &Server{eng: eng, hub: NewHub()}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/position", s.handlePosition)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/performance", s.handlePerformance)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/events", s.hub.Subscribe)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
	}
	return s
}

// Publish broadcasts one step result to SSE subscribers.
func (s *Server) Publish(res engine.StepResult) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	s.hub.Broadcast(string(b))
}

// Start runs the listener until the context ends.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Web server listening", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.Stats())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.PositionView())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.Trades())
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.Performance())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"lock":   string(s.eng.ReentryLock()),
		"time":   time.Now().Unix(),
	})
}
