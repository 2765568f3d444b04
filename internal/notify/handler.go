package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/ecohaat/internal/auth"
	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/httpx"
)

const listLimit = 50

type Inbox interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id int64, userID string) (bool, error)
}

// Handler serves the caller's in-app notifications.
type Handler struct {
	inbox  Inbox
	logger *slog.Logger
}

func NewHandler(inbox Inbox, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, logger: logger}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "list notifications")
		return
	}

	notifications, err := h.inbox.ListForUser(r.Context(), caller.ID, listLimit)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to list notifications", "user_id", caller.ID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, notifications)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "mark notification read")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid notification id")
		return
	}

	ok, err := h.inbox.MarkRead(r.Context(), id, caller.ID)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to mark notification read", "notification_id", id)
		return
	}
	if !ok {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "notification not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
