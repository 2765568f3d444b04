package mailer

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/httpx"
)

type Directory interface {
	AdminEmails(ctx context.Context) ([]string, error)
	SubscriberEmails(ctx context.Context) ([]string, error)
	CountSubscribers(ctx context.Context) (int, error)
	Subscribe(ctx context.Context, email string) (bool, error)
}

type Handler struct {
	sender         Sender
	directory      Directory
	renderer       *Renderer
	fallbackAdmins []string
	broadcastLimit int
	logger         *slog.Logger
}

func NewHandler(sender Sender, directory Directory, renderer *Renderer, fallbackAdmins []string, broadcastLimit int, logger *slog.Logger) *Handler {
	if broadcastLimit < 1 {
		broadcastLimit = 1
	}
	return &Handler{
		sender:         sender,
		directory:      directory,
		renderer:       renderer,
		fallbackAdmins: fallbackAdmins,
		broadcastLimit: broadcastLimit,
		logger:         logger,
	}
}

type buyerStatusRequest struct {
	Email       string        `json:"email"`
	OrderID     int64         `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	Note        string        `json:"note"`
}

func (h *Handler) HandleBuyerOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req buyerStatusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.OrderNumber == "" || req.Status == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "email, orderNumber and status are required")
		return
	}

	msg, err := h.renderer.BuyerOrderStatus(req.Email, req.OrderID, req.OrderNumber, req.Status, req.Note)
	h.send(w, r, msg, err, "order_number", req.OrderNumber)
}

type sellerStatusRequest struct {
	Email       string        `json:"email"`
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	BuyerName   string        `json:"buyerName"`
}

func (h *Handler) HandleSellerOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req sellerStatusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.OrderNumber == "" || req.Status == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "email, orderNumber and status are required")
		return
	}

	msg, err := h.renderer.SellerOrderStatus(req.Email, req.OrderNumber, req.Status, req.BuyerName)
	h.send(w, r, msg, err, "order_number", req.OrderNumber)
}

type payoutRequest struct {
	Email       string `json:"email"`
	OrderNumber string `json:"orderNumber"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note"`
}

func (h *Handler) HandleSellerPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.OrderNumber == "" || req.Amount <= 0 {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "email, orderNumber and a positive amount are required")
		return
	}

	msg, err := h.renderer.SellerPayout(req.Email, req.OrderNumber, req.Amount, req.Note)
	h.send(w, r, msg, err, "order_number", req.OrderNumber)
}

type adminStatusRequest struct {
	OrderNumber string        `json:"orderNumber"`
	Status      domain.Status `json:"status"`
	Note        string        `json:"note"`
}

func (h *Handler) HandleAdminOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req adminStatusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderNumber == "" || req.Status == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "orderNumber and status are required")
		return
	}

	admins := h.adminEmails(r.Context())
	if len(admins) == 0 {
		h.logger.Warn("no admin emails configured", "order_number", req.OrderNumber)
		httpx.WriteJSON(w, h.logger, http.StatusOK, broadcastResult{})
		return
	}

	result := h.broadcast(r.Context(), admins, func(to string) (Message, error) {
		return h.renderer.AdminOrderStatus(to, req.OrderNumber, req.Status, req.Note)
	})
	if result.Sent == 0 {
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "failed to send admin notification")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, result)
}

type adminSendRequest struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (h *Handler) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	var req adminSendRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Subject == "" || req.Message == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "email, subject and message are required")
		return
	}

	msg, err := h.renderer.AdminMessage(req.Email, req.Subject, req.Message)
	h.send(w, r, msg, err, "subject", req.Subject)
}

type broadcastRequest struct {
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	PreviewText string `json:"previewText"`
}

type broadcastResult struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
	Total  int   `json:"total"`
}

func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Content) == "" {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "subject and content are required")
		return
	}

	subscribers, err := h.directory.SubscriberEmails(r.Context())
	if err != nil {
		h.logger.Error("failed to load subscribers", "error", err)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}

	result := h.broadcast(r.Context(), subscribers, func(to string) (Message, error) {
		return h.renderer.Newsletter(to, req.Subject, req.Content, req.PreviewText)
	})

	h.logger.Info("newsletter broadcast finished", "sent", result.Sent, "failed", result.Failed, "total", result.Total)
	httpx.WriteJSON(w, h.logger, http.StatusOK, result)
}

func (h *Handler) HandleSubscriberCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.directory.CountSubscribers(r.Context())
	if err != nil {
		h.logger.Error("failed to count subscribers", "error", err)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "a valid email is required")
		return
	}

	created, err := h.directory.Subscribe(r.Context(), strings.ToLower(addr.Address))
	if err != nil {
		h.logger.Error("failed to subscribe", "error", err)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, h.logger, status, map[string]bool{"subscribed": true})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, msg Message, renderErr error, args ...any) {
	if renderErr != nil {
		h.logger.Error("failed to render email", append(args, "error", renderErr)...)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "failed to send email")
		return
	}
	if err := h.sender.Send(r.Context(), msg); err != nil {
		h.logger.Error("failed to send email", append(args, "error", err)...)
		httpx.WriteError(w, h.logger, http.StatusInternalServerError, "failed to send email")
		return
	}
	h.logger.Info("email sent", append(args, "subject", msg.Subject)...)
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
}

// broadcast sends one message per recipient with bounded parallelism. A
// failed recipient is counted and does not stop the others.
func (h *Handler) broadcast(ctx context.Context, recipients []string, build func(to string) (Message, error)) broadcastResult {
	var sent, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(h.broadcastLimit)
	for _, to := range recipients {
		g.Go(func() error {
			msg, err := build(to)
			if err == nil {
				err = h.sender.Send(ctx, msg)
			}
			if err != nil {
				failed.Add(1)
				h.logger.Error("failed to send broadcast email", "to", to, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return broadcastResult{Sent: sent.Load(), Failed: failed.Load(), Total: len(recipients)}
}

func (h *Handler) adminEmails(ctx context.Context) []string {
	fromDB, err := h.directory.AdminEmails(ctx)
	if err != nil {
		h.logger.Error("failed to load admin emails, using fallback list", "error", err)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{fromDB, h.fallbackAdmins} {
		for _, email := range list {
			email = strings.TrimSpace(email)
			key := strings.ToLower(email)
			if email == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, email)
		}
	}
	return out
}
