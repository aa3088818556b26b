package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/auth"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
	service "github.com/honeynil/MoneyMitra/internal/services"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	ledger service.LedgerService
	advice service.AdviceService
}

func NewHandler(ledger service.LedgerService, advice service.AdviceService) *Handler {
	return &Handler{ledger: ledger, advice: advice}
}

type errorResponse struct {
	Error string `json:"error"`
}

type adviceRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, public := statusFor(err)
	logger := observability.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: public.Error()})
}

// RegisterRoutes mounts the authenticated API on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	r.HandleFunc("/advice", h.Advice).Methods(http.MethodPost)
	r.HandleFunc("/profile", h.CreateProfile).Methods(http.MethodPost)
	r.HandleFunc("/profile", h.GetProfile).Methods(http.MethodGet)
	r.HandleFunc("/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/transactions", h.GetTransactionHistory).Methods(http.MethodGet)
	r.HandleFunc("/analytics/spending", h.GetSpending).Methods(http.MethodGet)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.CallerFromContext(r.Context())
	if !ok {
		h.writeError(w, r, pkgerrors.ErrUnauthorized)
	}
	return id, ok
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidAmount) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body", pkgerrors.ErrInvalidInput)
	}
	if err := validateRequest(dst); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req service.TransferRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.ledger.Transfer(r.Context(), callerID, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Advice(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req adviceRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	answer, err := h.advice.Ask(r.Context(), callerID, req.Question)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req service.CreateProfileRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	profile, err := h.ledger.CreateProfile(r.Context(), callerID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	profile, err := h.ledger.GetProfile(r.Context(), callerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), callerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", pkgerrors.ErrInvalidInput))
			return
		}
		limit = n
	}

	history, err := h.ledger.GetTransactionHistory(r.Context(), callerID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetSpending(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	summary, err := h.ledger.GetSpendingByCategory(r.Context(), callerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Healthz reports liveness only.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

