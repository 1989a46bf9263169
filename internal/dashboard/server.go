// Package dashboard serves the live grid dashboard, a JSON API over the engine's
// symbol views, a health check and the prometheus metrics endpoint.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/reports"
	"github.com/eddiefleurent/vagrid/internal/session"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// Source provides the symbol views shown on the dashboard.
type Source interface {
	Snapshot(ctx context.Context) []strategy.SymbolView
	SymbolSnapshot(ctx context.Context, symbol string) (strategy.SymbolView, error)
}

var _ Source = (*strategy.Engine)(nil)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	source    Source
	calendar  *session.Calendar
	logger    *logrus.Logger
	port      int
	authToken string
	now       func() time.Time
}

type Config struct {
	Port      int
	AuthToken string
}

// Stats are portfolio totals across all symbols.
type Stats struct {
	Symbols       int     `json:"symbols"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	BasePositions int     `json:"base_positions"`
	MarketStatus  string  `json:"market_status"`
}

func NewServer(cfg Config, source Source, calendar *session.Calendar, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		source:    source,
		calendar:  calendar,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/api/symbols", s.handleGetSymbols)
	s.router.Get("/api/symbols/{symbol}", s.handleGetSymbol)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	views := s.source.Snapshot(r.Context())
	var buf bytes.Buffer
	if err := reports.RenderDashboard(&buf, reports.NewDashboardData(views, s.now())); err != nil {
		s.logger.WithError(err).Error("Failed to execute dashboard template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Snapshot(r.Context()))
}

func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	view, err := s.source.SymbolSnapshot(r.Context(), symbol)
	if errors.Is(err, strategy.ErrSymbolUnknown) {
		http.Error(w, "Symbol not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("Failed to get symbol")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	views := s.source.Snapshot(r.Context())
	stats := Stats{Symbols: len(views), MarketStatus: s.marketStatus()}
	for _, v := range views {
		stats.MarketValue += v.MarketValue()
		stats.UnrealizedPnL += v.UnrealizedPnL()
		stats.BasePositions += v.BasePosition
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":        "healthy",
		"time":          s.now(),
		"market_status": s.marketStatus(),
	})
}

func (s *Server) marketStatus() string {
	if s.calendar == nil {
		return "unknown"
	}
	now := s.now()
	switch {
	case !s.calendar.IsTradingDay(now):
		return "closed"
	case s.calendar.IsAuction(now):
		return "auction"
	case s.calendar.IsBlocking(now):
		return "pre-open"
	case s.calendar.IsMainSession(now):
		return "open"
	default:
		return "closed"
	}
}
