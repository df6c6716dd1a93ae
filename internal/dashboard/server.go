// Package dashboard serves the expected-move engine to the UI as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/eddiefleurent/expected_move/internal/engine"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Service is the engine surface the API needs.
type Service interface {
	Tickers() []engine.Ticker
	Compute(ctx context.Context, req engine.Request) (engine.Result, error)
	Expirations(ctx context.Context, symbol string) ([]string, error)
	Volatility(ctx context.Context, symbol string) (volatility.Forecast, error)
	MarketStatus(ctx context.Context) (engine.MarketStatus, error)
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	service   Service
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

// StatusResponse reports a domain outcome that produced no data.
type StatusResponse struct {
	Symbol  string `json:"symbol,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ExpirationsResponse struct {
	Symbol      string   `json:"symbol"`
	Status      string   `json:"status"`
	Expirations []string `json:"expirations"`
}

type VolatilityResponse struct {
	Status   string              `json:"status"`
	Forecast volatility.Forecast `json:"forecast"`
}

func NewServer(cfg Config, service Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		service:   service,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/market", s.handleMarket)
		r.Get("/tickers", s.handleTickers)
		r.Route("/tickers/{symbol}", func(r chi.Router) {
			r.Get("/expirations", s.handleExpirations)
			r.Get("/expected-move", s.handleExpectedMove)
			r.Get("/volatility", s.handleVolatility)
		})
	})
}

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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"http_req_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting expected move API on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.MarketStatus(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Failed to get market clock")
		s.writeJSON(w, http.StatusBadGateway, StatusResponse{Status: "error", Message: "Market status unavailable."})
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Tickers())
}

func (s *Server) handleExpirations(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	dates, err := s.service.Expirations(r.Context(), symbol)
	if err != nil {
		s.writeError(w, symbol, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ExpirationsResponse{Symbol: symbol, Status: engine.StatusOK, Expirations: dates})
}

func (s *Server) handleExpectedMove(w http.ResponseWriter, r *http.Request) {
	req := engine.Request{
		Symbol:     chi.URLParam(r, "symbol"),
		Expiration: r.URL.Query().Get("expiration"),
	}
	if raw := r.URL.Query().Get("target"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, StatusResponse{
				Symbol: req.Symbol, Status: "invalid_request", Message: "target must be a number",
			})
			return
		}
		req.TargetOverride = &v
	}

	result, err := s.service.Compute(r.Context(), req)
	if err != nil {
		s.writeError(w, req.Symbol, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	forecast, err := s.service.Volatility(r.Context(), symbol)
	if err != nil {
		s.writeError(w, symbol, err)
		return
	}
	s.writeJSON(w, http.StatusOK, VolatilityResponse{Status: engine.StatusOK, Forecast: forecast})
}

// writeError maps domain outcomes to 200 and malformed requests to 400.
func (s *Server) writeError(w http.ResponseWriter, symbol string, err error) {
	var me *models.Error
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		s.writeJSON(w, http.StatusBadRequest, StatusResponse{Symbol: symbol, Status: "invalid_request", Message: err.Error()})
	case errors.As(err, &me):
		s.writeJSON(w, http.StatusOK, StatusResponse{Symbol: symbol, Status: string(me.Kind), Message: me.Message()})
	case errors.Is(err, volatility.ErrInsufficientData):
		s.writeJSON(w, http.StatusOK, StatusResponse{
			Symbol: symbol, Status: "insufficient_data", Message: "Not enough price history to fit a volatility model.",
		})
	default:
		s.logger.WithError(err).WithField("symbol", symbol).Error("Request failed")
		s.writeJSON(w, http.StatusInternalServerError, StatusResponse{Symbol: symbol, Status: "error", Message: "Unexpected error."})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
