package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/mining"
	"github.com/broskiv2/wemine-bot/internal/models"
)

type purchaseRequest struct {
	TelegramID int64 `json:"telegram_id" validate:"required"`
	PlanID     int   `json:"plan_id" validate:"required"`
}

type depositRequest struct {
	TelegramID int64  `json:"telegram_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
	TxHash     string `json:"tx_hash"`
}

type withdrawRequest struct {
	TelegramID  int64  `json:"telegram_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Destination string `json:"destination" validate:"required"`
}

type closeSessionRequest struct {
	TelegramID int64 `json:"telegram_id" validate:"required"`
}

type confirmRequest struct {
	OK bool `json:"ok"`
}

type planPayload struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        string `json:"price"`
	MiningRate   string `json:"mining_rate"`
	DurationDays int    `json:"duration_days"`
}

type balancePayload struct {
	TelegramID   int64  `json:"telegram_id"`
	Balance      string `json:"balance"`
	ActivePlanID *int   `json:"active_plan_id,omitempty"`
}

type statusPayload struct {
	Active        bool       `json:"active"`
	PlanID        int        `json:"plan_id,omitempty"`
	TotalMined    string     `json:"total_mined"`
	MiningRate    string     `json:"mining_rate"`
	DaysRemaining int        `json:"days_remaining"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
}

type sessionPayload struct {
	ID         int64     `json:"id"`
	PlanID     int       `json:"plan_id"`
	MiningRate string    `json:"mining_rate"`
	StartedAt  time.Time `json:"started_at"`
	EndsAt     time.Time `json:"ends_at"`
	TotalMined string    `json:"total_mined"`
	Active     bool      `json:"active"`
}

type transactionPayload struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionPayload(s *models.MiningSession) sessionPayload {
	return sessionPayload{
		ID:         s.ID,
		PlanID:     s.PlanID,
		MiningRate: s.MiningRate.String(),
		StartedAt:  s.StartedAt,
		EndsAt:     s.EndsAt,
		TotalMined: s.TotalMined.String(),
		Active:     s.Active,
	}
}

func toTransactionPayload(t models.Transaction) transactionPayload {
	return transactionPayload{
		ID:        t.ID,
		Kind:      t.Kind,
		Amount:    t.Amount.String(),
		Status:    t.Status,
		TxHash:    t.TxHash,
		CreatedAt: t.CreatedAt,
	}
}

// writeServiceError maps the lifecycle error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mining.ErrAccountNotFound),
		errors.Is(err, mining.ErrPlanNotFound),
		errors.Is(err, mining.ErrTransactionNotFound),
		errors.Is(err, mining.ErrNoActiveSession):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, mining.ErrInvalidAmount),
		errors.Is(err, mining.ErrInsufficientFunds),
		errors.Is(err, mining.ErrActivePlanExists):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, mining.ErrStoreUnavailable):
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	render.JSON(w, r, errorResponse(publicError(err)))
}

// publicError strips wrapped detail off retryable/internal errors so the
// response doesn't leak driver internals.
func publicError(err error) string {
	switch {
	case errors.Is(err, mining.ErrStoreUnavailable):
		return mining.ErrStoreUnavailable.Error()
	case errors.Is(err, mining.ErrInvariantViolation):
		return mining.ErrInvariantViolation.Error()
	default:
		return err.Error()
	}
}

// decodeAndValidate decodes the JSON body into req and validates it.
// On failure an error response has already been written.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse("invalid request body"))
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, validationError(verrs))
			return false
		}
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse("invalid request"))
		return false
	}
	return true
}

// telegramIDParam reads the telegram_id query parameter.
func telegramIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("telegram_id"), 10, 64)
	if err != nil || id == 0 {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse("telegram_id query parameter is required"))
		return 0, false
	}
	return id, true
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.service.ListPlans(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	payload := make([]planPayload, 0, len(plans))
	for _, p := range plans {
		payload = append(payload, planPayload{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			Price:        p.Price.String(),
			MiningRate:   p.MiningRate.String(),
			DurationDays: p.DurationDays,
		})
	}
	render.JSON(w, r, okWithData(payload))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := telegramIDParam(w, r)
	if !ok {
		return
	}

	account, err := s.service.GetAccount(r.Context(), telegramID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	render.JSON(w, r, okWithData(balancePayload{
		TelegramID:   account.TelegramID,
		Balance:      account.Balance.String(),
		ActivePlanID: account.ActivePlanID,
	}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := telegramIDParam(w, r)
	if !ok {
		return
	}

	status, err := s.service.QueryStatus(r.Context(), telegramID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	payload := statusPayload{
		Active:        status.Active,
		PlanID:        status.PlanID,
		TotalMined:    status.TotalMined.String(),
		MiningRate:    status.MiningRate.String(),
		DaysRemaining: status.DaysRemaining,
	}
	if status.Active {
		endsAt := status.EndsAt
		payload.EndsAt = &endsAt
	}
	render.JSON(w, r, okWithData(payload))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := telegramIDParam(w, r)
	if !ok {
		return
	}

	payload := make([]transactionPayload, 0)
	for entry, err := range s.service.ListTransactions(r.Context(), telegramID) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		payload = append(payload, toTransactionPayload(entry))
	}
	render.JSON(w, r, okWithData(payload))
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := s.service.PurchasePlan(r.Context(), req.TelegramID, req.PlanID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, okWithData(toSessionPayload(session)))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, r, mining.ErrInvalidAmount)
		return
	}

	entry, err := s.service.Deposit(r.Context(), req.TelegramID, amount, req.TxHash)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, okWithData(toTransactionPayload(*entry)))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeServiceError(w, r, mining.ErrInvalidAmount)
		return
	}

	entry, err := s.service.Withdraw(r.Context(), req.TelegramID, amount, req.Destination)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, okWithData(toTransactionPayload(*entry)))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := s.service.CloseSession(r.Context(), req.TelegramID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, okWithData(toSessionPayload(session)))
}

func (s *Server) handleConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse("invalid transaction id"))
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse("invalid request body"))
		return
	}

	entry, err := s.service.ConfirmDeposit(r.Context(), transactionID, req.OK)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, okWithData(toTransactionPayload(*entry)))
}
