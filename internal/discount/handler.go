package discount

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joao-fontenele/ecohaat/internal/auth"
	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/httpx"
)

type Store interface {
	Lookup
	GetByID(ctx context.Context, id int64) (*domain.DiscountCode, error)
	List(ctx context.Context) ([]domain.DiscountCode, error)
	Create(ctx context.Context, dc *domain.DiscountCode) error
	Update(ctx context.Context, dc *domain.DiscountCode) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Apply(ctx context.Context, codeID int64, userID string, orderID int64) (bool, error)
	OrderBuyer(ctx context.Context, orderID int64) (string, error)
}

type Handler struct {
	store     Store
	validator *Validator
	logger    *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		validator: NewValidator(store),
		logger:    logger,
	}
}

type validateRequest struct {
	Code      string `json:"code"`
	CartTotal int64  `json:"cartTotal"`
	UserID    string `json:"userId"`
}

type validateResponse struct {
	Valid    bool                    `json:"valid"`
	Discount *domain.AppliedDiscount `json:"discount,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Code     RuleCode                `json:"code,omitempty"`
}

// HandleValidate answers 200 for both outcomes; a failed rule is reported in
// the body with its code.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "code is required")
		return
	}

	applied, err := h.validator.Validate(r.Context(), req.Code, req.CartTotal, req.UserID)
	var ruleErr *RuleError
	if errors.As(err, &ruleErr) {
		httpx.WriteJSON(w, h.logger, http.StatusOK, validateResponse{Error: ruleErr.Message, Code: ruleErr.Code})
		return
	}
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to validate discount code")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, validateResponse{Valid: true, Discount: applied})
}

type applyRequest struct {
	CodeID  int64  `json:"codeId"`
	UserID  string `json:"userId"`
	OrderID int64  `json:"orderId"`
}

func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.MustCaller(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "apply discount")
		return
	}

	var req applyRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CodeID == 0 || req.OrderID == 0 {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "codeId and orderId are required")
		return
	}
	if req.UserID == "" {
		req.UserID = caller.ID
	}
	if req.UserID != caller.ID && !caller.IsAdmin() {
		httpx.WriteError(w, h.logger, http.StatusForbidden, "cannot apply a code for another user")
		return
	}

	dc, err := h.store.GetByID(r.Context(), req.CodeID)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to load discount code", "code_id", req.CodeID)
		return
	}
	if dc == nil {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "discount code not found")
		return
	}

	buyerID, err := h.store.OrderBuyer(r.Context(), req.OrderID)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to load order", "order_id", req.OrderID)
		return
	}
	if buyerID == "" {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "order not found")
		return
	}
	if buyerID != req.UserID && !caller.IsAdmin() {
		httpx.WriteError(w, h.logger, http.StatusForbidden, "order belongs to another user")
		return
	}

	applied, err := h.store.Apply(r.Context(), req.CodeID, req.UserID, req.OrderID)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to apply discount code", "code_id", req.CodeID, "order_id", req.OrderID)
		return
	}

	h.logger.Info("discount code applied", "code_id", req.CodeID, "order_id", req.OrderID, "recorded", applied)
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true, "recorded": applied})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	codes, err := h.store.List(r.Context())
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to list discount codes")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, codes)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	dc, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to get discount code", "code_id", id)
		return
	}
	if dc == nil {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "discount code not found")
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, dc)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var dc domain.DiscountCode
	if err := httpx.Decode(r, &dc); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := prepare(&dc); err != nil {
		httpx.WriteServiceError(w, h.logger, err, "invalid discount code")
		return
	}

	if err := h.store.Create(r.Context(), &dc); err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to create discount code", "code", dc.Code)
		return
	}

	h.logger.Info("discount code created", "code_id", dc.ID, "code", dc.Code)
	httpx.WriteJSON(w, h.logger, http.StatusCreated, dc)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var dc domain.DiscountCode
	if err := httpx.Decode(r, &dc); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	dc.ID = id
	if err := prepare(&dc); err != nil {
		httpx.WriteServiceError(w, h.logger, err, "invalid discount code")
		return
	}

	found, err := h.store.Update(r.Context(), &dc)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to update discount code", "code_id", id)
		return
	}
	if !found {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "discount code not found")
		return
	}

	h.logger.Info("discount code updated", "code_id", id)
	httpx.WriteJSON(w, h.logger, http.StatusOK, dc)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	found, err := h.store.Delete(r.Context(), id)
	if err != nil {
		httpx.WriteServiceError(w, h.logger, err, "failed to delete discount code", "code_id", id)
		return
	}
	if !found {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "discount code not found")
		return
	}

	h.logger.Info("discount code deleted", "code_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid discount code id")
		return 0, false
	}
	return id, true
}

// prepare normalizes the code and rejects records the validator could not
// evaluate sensibly.
func prepare(dc *domain.DiscountCode) error {
	dc.Code = NormalizeCode(dc.Code)
	switch {
	case dc.Code == "":
		return domain.NewValidationError("code", "is required")
	case !dc.Type.Valid():
		return domain.NewValidationError("discount_type", "must be percentage, fixed or free_shipping")
	case dc.Type != domain.DiscountFreeShipping && dc.Value <= 0:
		return domain.NewValidationError("discount_value", "must be positive")
	case dc.Type == domain.DiscountPercentage && dc.Value > 100:
		return domain.NewValidationError("discount_value", "cannot exceed 100 percent")
	case dc.MinOrderAmount < 0:
		return domain.NewValidationError("min_order_amount", "cannot be negative")
	case dc.MaxUses != nil && *dc.MaxUses <= 0:
		return domain.NewValidationError("max_uses", "must be positive")
	case dc.PerUserLimit != nil && *dc.PerUserLimit <= 0:
		return domain.NewValidationError("per_user_limit", "must be positive")
	case dc.ValidFrom != nil && dc.ValidUntil != nil && !dc.ValidUntil.After(*dc.ValidFrom):
		return domain.NewValidationError("valid_until", "must be after valid_from")
	}
	if dc.Type != domain.DiscountPercentage {
		dc.MaxDiscount = nil
	}
	return nil
}
