// Package server exposes the mining lifecycle as a JSON HTTP API for the
// web front-end.
package server

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/logger"
	"github.com/broskiv2/wemine-bot/internal/mining"
	"github.com/broskiv2/wemine-bot/internal/models"
)

// Service is the lifecycle surface the API marshals requests into.
// Implemented by *mining.Manager.
type Service interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
	GetAccount(ctx context.Context, telegramID int64) (*models.Account, error)
	QueryStatus(ctx context.Context, telegramID int64) (*models.MiningStatus, error)
	PurchasePlan(ctx context.Context, telegramID int64, planID int) (*models.MiningSession, error)
	Deposit(ctx context.Context, telegramID int64, amount decimal.Decimal, txHash string) (*models.Transaction, error)
	ConfirmDeposit(ctx context.Context, transactionID int64, ok bool) (*models.Transaction, error)
	Withdraw(ctx context.Context, telegramID int64, amount decimal.Decimal, destination string) (*models.Transaction, error)
	CloseSession(ctx context.Context, telegramID int64) (*models.MiningSession, error)
	ListTransactions(ctx context.Context, telegramID int64) iter.Seq2[models.Transaction, error]
}

var _ Service = (*mining.Manager)(nil)

// Server wraps the HTTP server for the web app API.
type Server struct {
	httpServer *http.Server
	service    Service
	validate   *validator.Validate
}

// New creates a Server listening on addr.
func New(addr string, service Service) *Server {
	s := &Server{
		service:  service,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(allowCORS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", s.handleListPlans)
		r.Get("/balance", s.handleBalance)
		r.Get("/status", s.handleStatus)
		r.Get("/transactions", s.handleListTransactions)
		r.Post("/purchase", s.handlePurchase)
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/sessions/close", s.handleCloseSession)
		r.Post("/deposits/{id}/confirm", s.handleConfirmDeposit)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler. Used in tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start() error {
	logger.Log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with its status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// allowCORS lets the statically hosted web app call the API from its own
// origin.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
