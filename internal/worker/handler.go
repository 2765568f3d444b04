package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

type NotificationHandler struct {
	apiServiceURL string
	token         string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewNotificationHandler calls the mail endpoints of the api service with
// token as bearer credentials.
func NewNotificationHandler(apiServiceURL, token string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		apiServiceURL: apiServiceURL,
		token:         token,
		httpClient:    client,
		logger:        logger,
	}
}

type buyerStatusEmail struct {
	Email       string        `json:"email"`
	OrderID     int64         `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	Note        string        `json:"note"`
}

type sellerStatusEmail struct {
	Email       string        `json:"email"`
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	BuyerName   string        `json:"buyerName"`
}

type adminStatusEmail struct {
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	Note        string        `json:"note"`
}

type payoutEmail struct {
	Email       string `json:"email"`
	OrderNumber string `json:"orderNumber"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.NotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal notification event: %w", err)
	}

	log := h.logger.With("event_id", event.EventID, "kind", event.Kind, "order_id", event.OrderID)

	var (
		path string
		body any
	)
	switch event.Kind {
	case domain.NotifyBuyerOrderStatus:
		path = "/api/notifications/order-status"
		body = buyerStatusEmail{
			Email:       event.Email,
			OrderID:     event.OrderID,
			OrderNumber: event.OrderNumber,
			Status:      event.Status,
			Note:        event.Note,
		}
	case domain.NotifySellerOrderStatus:
		path = "/api/notifications/seller/order-status"
		body = sellerStatusEmail{
			Email:       event.Email,
			OrderNumber: event.OrderNumber,
			Status:      event.Status,
			BuyerName:   event.BuyerName,
		}
	case domain.NotifyAdminOrderStatus:
		path = "/api/notifications/admin/order-status"
		body = adminStatusEmail{
			OrderNumber: event.OrderNumber,
			Status:      event.Status,
			Note:        event.Note,
		}
	case domain.NotifySellerPayout:
		path = "/api/notifications/seller/payout"
		body = payoutEmail{
			Email:       event.Email,
			OrderNumber: event.OrderNumber,
			Amount:      event.Amount,
			Note:        event.Note,
		}
	default:
		log.Warn("ignoring unknown notification kind")
		return nil
	}

	if event.Kind != domain.NotifyAdminOrderStatus && event.Email == "" {
		log.Info("recipient has no email, skipping", "recipient_id", event.RecipientID)
		return nil
	}

	if err := h.post(ctx, path, body); err != nil {
		return fmt.Errorf("send %s email: %w", event.Kind, err)
	}

	log.Info("notification email sent")
	return nil
}

func (h *NotificationHandler) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiServiceURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api service returned status %d", resp.StatusCode)
	}

	return nil
}
