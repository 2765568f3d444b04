package otp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/ecohaat/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Send(r.Context(), req.Email); err != nil {
		httpx.WriteServiceError(w, h.logger, err, "send otp")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "OTP sent"})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.Verify(r.Context(), req.Email, req.OTP)
	if errors.Is(err, ErrTooManyAttempts) {
		httpx.WriteError(w, h.logger, http.StatusTooManyRequests, err.Error())
		return
	}
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "verify otp")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true, "verified": true})
}
