package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/ecohaat/internal/auth"
	"github.com/joao-fontenele/ecohaat/internal/domain"
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

// Register mounts the order routes on mux. The first middleware is the
// outermost.
func (h *Handler) Register(mux *http.ServeMux, middleware ...func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		var handler http.Handler = fn
		for i := len(middleware) - 1; i >= 0; i-- {
			handler = middleware[i](handler)
		}
		mux.Handle(pattern, handler)
	}

	route("POST /api/orders", h.HandleCreate)
	route("GET /api/orders", h.HandleList)
	route("GET /api/orders/{id}", h.HandleGet)
	route("POST /api/orders/{id}/delivered", h.HandleMarkDelivered)
	route("POST /api/orders/{id}/cancel", h.HandleCancel)

	route("POST /api/items/{id}/accept", h.itemAction(h.service.AcceptItem))
	route("POST /api/items/{id}/deny", h.HandleDeny)
	route("POST /api/items/{id}/processing", h.itemAction(h.service.MarkProcessing))
	route("POST /api/items/{id}/shipped", h.itemAction(h.service.MarkShipped))
	route("POST /api/items/{id}/at-station", h.itemAction(h.service.MarkAtStation))
	route("POST /api/items/{id}/reached-destination", h.itemAction(h.service.MarkReachedDestination))
	route("POST /api/items/{id}/payment-received", h.itemAction(h.service.MarkPaymentReceived))
	route("POST /api/items/{id}/payment-sent", h.itemAction(h.service.MarkPaymentSentToSeller))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "create order")
		return
	}

	var in CreateOrderInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), caller, in)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to create order", "buyer_id", caller.ID)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "get order")
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), caller, id)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to get order", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "list orders")
		return
	}

	orders, err := h.service.ListOrders(r.Context(), caller)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders), "user_id", caller.ID)
	httpx.WriteJSON(w, h.logger, http.StatusOK, orders)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeReason accepts an empty body.
func decodeReason(r *http.Request) (string, error) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.Reason, nil
}

func (h *Handler) HandleDeny(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "deny item")
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	reason, err := decodeReason(r)
	if err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.DenyItem(r.Context(), caller, id, reason)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to deny item", "item_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.orderAction(h.service.MarkDelivered)(w, r)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "cancel order")
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	reason, err := decodeReason(r)
	if err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.CancelOrder(r.Context(), caller, id, reason)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to cancel order", "order_id", id)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type transitionFunc func(ctx context.Context, caller domain.Caller, id int64) (*domain.Order, error)

func (h *Handler) itemAction(fn transitionFunc) http.HandlerFunc {
	return h.action("item_id", fn)
}

func (h *Handler) orderAction(fn transitionFunc) http.HandlerFunc {
	return h.action("order_id", fn)
}

func (h *Handler) action(idKey string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := auth.MustCaller(r.Context())
		if err != nil {
			httpx.WriteServiceError(w, h.logger, err, "order transition")
			return
		}

		id, ok := h.pathID(w, r)
		if !ok {
			return
		}

		order, err := fn(r.Context(), caller, id)
		if err != nil {
			httpx.WriteServiceError(w, h.logger, err, "order transition failed", idKey, id, "path", r.URL.Path)
			return
		}

		httpx.WriteJSON(w, h.logger, http.StatusOK, order)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
