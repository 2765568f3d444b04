// Package notify delivers best-effort notifications: an in-app row per
// recipient plus an event for the email worker.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/messaging"
)

const deliverTimeout = 10 * time.Second

// Request describes one notification. An empty RecipientID addresses every
// admin.
type Request struct {
	Kind        domain.NotificationKind
	RecipientID string
	Title       string
	Message     string
	OrderID     int64
	OrderNumber string
	Status      domain.Status
	Note        string
	BuyerName   string
	Amount      int64
}

func (r Request) toAdmins() bool {
	return r.RecipientID == ""
}

type Store interface {
	Insert(ctx context.Context, n *domain.Notification) error
	AdminIDs(ctx context.Context) ([]string, error)
	Email(ctx context.Context, userID string) (string, error)
}

// Dispatcher accepts requests without blocking and delivers them from a
// fixed pool of workers. A full queue drops the request.
type Dispatcher struct {
	queue     chan Request
	store     Store
	publisher messaging.Publisher
	logger    *slog.Logger
	workers   int
	dropped   metric.Int64Counter
	now       func() time.Time
}

// NewDispatcher builds a dispatcher; publisher may be nil, in which case only
// in-app rows are written.
func NewDispatcher(store Store, publisher messaging.Publisher, logger *slog.Logger, queueSize, workers int) (*Dispatcher, error) {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	dropped, err := otel.Meter("github.com/joao-fontenele/ecohaat/internal/notify").Int64Counter(
		"ecohaat.notifications.dropped",
		metric.WithDescription("Notifications discarded because the dispatch queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}

	return &Dispatcher{
		queue:     make(chan Request, queueSize),
		store:     store,
		publisher: publisher,
		logger:    logger,
		workers:   workers,
		dropped:   dropped,
		now:       time.Now,
	}, nil
}

// Enqueue never blocks. It reports whether the request was queued.
func (d *Dispatcher) Enqueue(req Request) bool {
	select {
	case d.queue <- req:
		return true
	default:
		d.dropped.Add(context.Background(), 1)
		d.logger.Warn("notification queue full, dropping", "kind", req.Kind, "order_id", req.OrderID)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled. Requests still
// queued at that point are delivered before Run returns, each bounded by the
// delivery timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-d.queue:
					d.deliver(ctx, req)
				}
			}
		}()
	}
	wg.Wait()

	drainCtx := context.WithoutCancel(ctx)
	drained := 0
	for {
		select {
		case req := <-d.queue:
			d.deliver(drainCtx, req)
			drained++
		default:
			if drained > 0 {
				d.logger.Info("dispatcher drained pending notifications", "count", drained)
			}
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, req Request) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	recipients := []string{req.RecipientID}
	if req.toAdmins() {
		ids, err := d.store.AdminIDs(ctx)
		if err != nil {
			d.logger.Error("failed to resolve admins", "error", err, "order_id", req.OrderID)
		}
		recipients = ids
	}

	for _, userID := range recipients {
		n := &domain.Notification{
			UserID:  userID,
			Kind:    req.Kind,
			Title:   req.Title,
			Message: req.Message,
			OrderID: req.OrderID,
		}
		if err := d.store.Insert(ctx, n); err != nil {
			d.logger.Error("failed to insert notification", "error", err, "user_id", userID, "order_id", req.OrderID)
		}
	}

	if d.publisher == nil {
		return
	}

	event := domain.NotificationEvent{
		EventID:     uuid.New().String(),
		Kind:        req.Kind,
		RecipientID: req.RecipientID,
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		Status:      req.Status,
		Note:        req.Note,
		BuyerName:   req.BuyerName,
		Amount:      req.Amount,
		Timestamp:   d.now().UTC(),
	}

	if !req.toAdmins() {
		email, err := d.store.Email(ctx, req.RecipientID)
		if err != nil {
			d.logger.Error("failed to resolve recipient email", "error", err, "user_id", req.RecipientID)
			return
		}
		if email == "" {
			return
		}
		event.Email = email
	}

	if err := d.publisher.Publish(ctx, strconv.FormatInt(req.OrderID, 10), event); err != nil {
		d.logger.Error("failed to publish notification event", "error", err, "order_id", req.OrderID, "kind", req.Kind)
	}
}
