//go:build integration

package test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/ecohaat/internal/discount"
	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/idempotency"
	"github.com/joao-fontenele/ecohaat/internal/mailer"
	"github.com/joao-fontenele/ecohaat/internal/messaging"
	"github.com/joao-fontenele/ecohaat/internal/notify"
	"github.com/joao-fontenele/ecohaat/internal/orders"
	"github.com/joao-fontenele/ecohaat/internal/otp"
	"github.com/joao-fontenele/ecohaat/internal/worker"
)

var (
	buyer  = domain.Caller{ID: "USR-20240131-001", Role: domain.RoleBuyer}
	seller = domain.Caller{ID: "SLR-20240131-001", Role: domain.RoleSeller}
	admin  = domain.Caller{ID: "USR-20240131-002", Role: domain.RoleAdmin}
)

func seedMarketplace(ctx context.Context, t *testing.T, db *sql.DB) {
	t.Helper()

	statements := []string{
		`INSERT INTO users (id, email, full_name, role) VALUES
			('USR-20240131-001', 'buyer@example.com', 'Rahim Uddin', 'buyer'),
			('SLR-20240131-001', 'seller@example.com', 'Green Farm', 'seller'),
			('USR-20240131-002', 'admin@ecohaat.com', 'Admin', 'admin')`,
		`INSERT INTO products (id, name, seller_id, price, stock) VALUES
			(1, 'Organic Rice 5kg', 'SLR-20240131-001', 500, 10),
			(2, 'Mustard Oil 1L', 'SLR-20240131-001', 250, 3)`,
		`INSERT INTO cart_items (user_id, product_id, quantity) VALUES ('USR-20240131-001', 1, 2)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}
}

func checkout(items ...domain.CartItem) orders.CreateOrderInput {
	return orders.CreateOrderInput{
		Items: items,
		ShippingAddress: domain.ShippingAddress{
			Name:          "Rahim Uddin",
			Division:      "Dhaka",
			District:      "Dhaka",
			StreetAddress: "12 Road 5, Dhanmondi",
		},
		Phone: "01700000000",
	}
}

type setup struct {
	db      *sql.DB
	service *orders.Service
	repo    *orders.OrderRepository
}

func newSetup(ctx context.Context, t *testing.T, opts ...orders.Option) *setup {
	t.Helper()

	db := StartPostgres(ctx, t)
	seedMarketplace(ctx, t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher, err := notify.NewDispatcher(notify.NewRepository(db), nil, logger, 64, 2)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	runCtx, stop := context.WithCancel(ctx)
	t.Cleanup(stop)
	go dispatcher.Run(runCtx)

	repo := orders.NewOrderRepository(db)
	opts = append([]orders.Option{orders.WithDiscounts(discount.NewValidator(discount.NewRepository(db)))}, opts...)
	service, err := orders.NewService(repo, dispatcher, logger, opts...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	return &setup{db: db, service: service, repo: repo}
}

func (s *setup) stock(ctx context.Context, t *testing.T, productID int64) int {
	t.Helper()
	var stock int
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	return stock
}

func TestOrderLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := newSetup(ctx, t)

	order, err := s.service.CreateOrder(ctx, buyer, checkout(domain.CartItem{ProductID: 1, Quantity: 2}))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if order.Subtotal != 1000 || order.DeliveryCharge != 60 || order.CODCharge != 11 || order.Total != 1071 {
		t.Fatalf("expected 1000/60/11/1071, got %d/%d/%d/%d", order.Subtotal, order.DeliveryCharge, order.CODCharge, order.Total)
	}
	if got := s.stock(ctx, t, 1); got != 8 {
		t.Fatalf("expected stock 8 after checkout, got %d", got)
	}

	var cartRows int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_items WHERE user_id = $1`, buyer.ID).Scan(&cartRows); err != nil {
		t.Fatalf("failed to count cart rows: %v", err)
	}
	if cartRows != 0 {
		t.Fatalf("expected cart to be cleared, got %d rows", cartRows)
	}

	itemID := order.Items[0].ID
	steps := []struct {
		name   string
		caller domain.Caller
		run    func(context.Context, domain.Caller, int64) (*domain.Order, error)
	}{
		{"accept", seller, s.service.AcceptItem},
		{"processing", seller, s.service.MarkProcessing},
		{"shipped", seller, s.service.MarkShipped},
		{"at station", admin, s.service.MarkAtStation},
		{"reached destination", admin, s.service.MarkReachedDestination},
	}
	for _, step := range steps {
		if _, err := step.run(ctx, step.caller, itemID); err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
	}

	if _, err := s.service.MarkDelivered(ctx, buyer, order.ID); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if _, err := s.service.MarkDelivered(ctx, buyer, order.ID); err != nil {
		t.Fatalf("second mark delivered should be a no-op, got %v", err)
	}
	if _, err := s.service.MarkPaymentSentToSeller(ctx, admin, itemID); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected payout before payment received to be rejected, got %v", err)
	}
	if _, err := s.service.MarkPaymentReceived(ctx, admin, itemID); err != nil {
		t.Fatalf("mark payment received failed: %v", err)
	}
	if _, err := s.service.MarkPaymentSentToSeller(ctx, admin, itemID); err != nil {
		t.Fatalf("mark payment sent failed: %v", err)
	}

	final, err := s.repo.GetByID(ctx, order.ID)
	if err != nil || final == nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if final.Status != domain.StatusDelivered {
		t.Errorf("expected order delivered, got %s", final.Status)
	}
	if len(final.TrackingHistory) != 7 {
		t.Errorf("expected 7 tracking events, got %d", len(final.TrackingHistory))
	}
	item := final.Items[0]
	if item.Status != domain.StatusDelivered || !item.PaymentReceived || !item.PaymentSentToSeller {
		t.Errorf("expected delivered and fully paid item, got %+v", item)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, buyer.ID).Scan(&n); err != nil {
			t.Fatalf("failed to count notifications: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected buyer notifications to be written")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestConcurrentAcceptAppendsOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := newSetup(ctx, t)

	order, err := s.service.CreateOrder(ctx, buyer, checkout(domain.CartItem{ProductID: 1, Quantity: 1}))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	itemID := order.Items[0].ID

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.AcceptItem(ctx, seller, itemID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one accept to succeed, got %d", succeeded)
	}

	final, err := s.repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if len(final.TrackingHistory) != 2 {
		t.Errorf("expected 2 tracking events, got %d", len(final.TrackingHistory))
	}
}

func TestOrderNumbering(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	day := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	s := newSetup(ctx, t, orders.WithClock(func() time.Time { return day }), orders.WithLocation(time.UTC))

	want := []string{"EH-20240131-001", "EH-20240131-002", "EH-20240131-003"}
	for i, number := range want {
		order, err := s.service.CreateOrder(ctx, buyer, checkout(domain.CartItem{ProductID: 1, Quantity: 1}))
		if err != nil {
			t.Fatalf("order %d: %v", i, err)
		}
		if order.OrderNumber != number {
			t.Errorf("expected %s, got %s", number, order.OrderNumber)
		}
	}
}

func TestCancelRestocks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := newSetup(ctx, t)

	order, err := s.service.CreateOrder(ctx, buyer, checkout(
		domain.CartItem{ProductID: 1, Quantity: 2},
		domain.CartItem{ProductID: 2, Quantity: 3},
	))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if got := s.stock(ctx, t, 2); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}

	if _, err := s.service.CreateOrder(ctx, buyer, checkout(domain.CartItem{ProductID: 2, Quantity: 1})); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected out-of-stock validation error, got %v", err)
	}

	cancelled, err := s.service.CancelOrder(ctx, buyer, order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if got := s.stock(ctx, t, 1); got != 10 {
		t.Errorf("expected product 1 restocked to 10, got %d", got)
	}
	if got := s.stock(ctx, t, 2); got != 3 {
		t.Errorf("expected product 2 restocked to 3, got %d", got)
	}
}

func TestDiscountAtCheckout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := newSetup(ctx, t)
	codes := discount.NewRepository(s.db)

	maxUses := 1
	maxDiscount := int64(150)
	code := &domain.DiscountCode{
		Code:        "WINTER20",
		Type:        domain.DiscountPercentage,
		Value:       20,
		MaxDiscount: &maxDiscount,
		MaxUses:     &maxUses,
		IsActive:    true,
	}
	if err := codes.Create(ctx, code); err != nil {
		t.Fatalf("failed to create code: %v", err)
	}

	in := checkout(domain.CartItem{ProductID: 1, Quantity: 2})
	in.DiscountCode = "winter20"
	order, err := s.service.CreateOrder(ctx, buyer, in)
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if order.DiscountAmount != 150 {
		t.Errorf("expected capped discount 150, got %d", order.DiscountAmount)
	}

	stored, err := codes.GetByID(ctx, code.ID)
	if err != nil {
		t.Fatalf("failed to reload code: %v", err)
	}
	if stored.UsesCount != 1 {
		t.Errorf("expected uses_count 1, got %d", stored.UsesCount)
	}
	uses, err := codes.CountUses(ctx, code.ID, buyer.ID)
	if err != nil || uses != 1 {
		t.Errorf("expected 1 ledger row, got %d (%v)", uses, err)
	}

	recorded, err := codes.Apply(ctx, code.ID, buyer.ID, order.ID)
	if err != nil || recorded {
		t.Errorf("expected re-applying to the same order to be a no-op, got %v (%v)", recorded, err)
	}

	if _, err := codes.Apply(ctx, code.ID, buyer.ID, 987654); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected unknown order to be not found, got %v", err)
	}
	if buyerID, err := codes.OrderBuyer(ctx, order.ID); err != nil || buyerID != buyer.ID {
		t.Errorf("expected order buyer %s, got %q (%v)", buyer.ID, buyerID, err)
	}

	in = checkout(domain.CartItem{ProductID: 1, Quantity: 1})
	in.DiscountCode = "WINTER20"
	_, err = s.service.CreateOrder(ctx, buyer, in)
	var ruleErr *discount.RuleError
	if !errors.As(err, &ruleErr) || ruleErr.Code != discount.CodeUsageLimitReached {
		t.Errorf("expected USAGE_LIMIT_REACHED, got %v", err)
	}
}

func newRedisClient(ctx context.Context, t *testing.T) *rd.Client {
	t.Helper()

	return StartRedis(ctx, t)
}

func TestIdempotencyStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := idempotency.NewRedisStore(newRedisClient(ctx, t), 10*time.Second)
	key := idempotency.Key(buyer.ID, "POST /api/orders", "k-1")

	token, existing, err := store.Begin(ctx, key)
	if err != nil || token == "" || existing != nil {
		t.Fatalf("expected to claim the key, got %q %v %v", token, existing, err)
	}

	if _, _, err := store.Begin(ctx, key); !errors.Is(err, idempotency.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	if err := store.Release(ctx, key, "someone-else"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, _, err := store.Begin(ctx, key); !errors.Is(err, idempotency.ErrInFlight) {
		t.Fatalf("expected a foreign release to keep the key, got %v", err)
	}

	rec := idempotency.Record{Status: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"id":1}`)}
	if err := store.Complete(ctx, key, rec, time.Minute); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	_, existing, err = store.Begin(ctx, key)
	if err != nil || existing == nil {
		t.Fatalf("expected stored record, got %v %v", existing, err)
	}
	if existing.Status != http.StatusCreated || string(existing.Body) != `{"id":1}` {
		t.Errorf("unexpected record: %+v", existing)
	}
}

func TestOTPStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rdb := newRedisClient(ctx, t)
	store := otp.NewRedisStore(rdb)
	email := "buyer@example.com"

	if err := store.Save(ctx, email, "hash", time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	ttl, err := rdb.TTL(ctx, otp.Key(email)).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("expected a ttl on the code, got %v (%v)", ttl, err)
	}

	n, err := store.IncrAttempts(ctx, email)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 attempt, got %d (%v)", n, err)
	}

	code, err := store.Get(ctx, email)
	if err != nil || code == nil || code.Hash != "hash" || code.Attempts != 1 {
		t.Fatalf("unexpected code: %+v (%v)", code, err)
	}

	if err := store.Delete(ctx, email); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if code, err := store.Get(ctx, email); err != nil || code != nil {
		t.Fatalf("expected no code after delete, got %+v (%v)", code, err)
	}
	if n, err := store.IncrAttempts(ctx, email); err != nil || n != -1 {
		t.Errorf("expected -1 for a missing code, got %d (%v)", n, err)
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (c *captureSender) Send(_ context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) messages() []mailer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mailer.Message(nil), c.sent...)
}

type staticDirectory struct{}

func (staticDirectory) AdminEmails(context.Context) ([]string, error)      { return []string{"admin@ecohaat.com"}, nil }
func (staticDirectory) SubscriberEmails(context.Context) ([]string, error) { return nil, nil }
func (staticDirectory) CountSubscribers(context.Context) (int, error)      { return 0, nil }
func (staticDirectory) Subscribe(context.Context, string) (bool, error)    { return false, nil }

func TestNotificationPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := StartKafka(ctx, t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &captureSender{}
	mail := mailer.NewHandler(sender, staticDirectory{}, mailer.NewRenderer("https://ecohaat.test"), nil, 2, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/notifications/order-status", mail.HandleBuyerOrderStatus)
	mux.HandleFunc("POST /api/notifications/admin/order-status", mail.HandleAdminOrderStatus)
	api := httptest.NewServer(mux)
	defer api.Close()

	const topic = "notification.requested"
	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	events := []domain.NotificationEvent{
		{EventID: "e-1", Kind: domain.NotifyBuyerOrderStatus, Email: "buyer@example.com", OrderID: 1, OrderNumber: "EH-20240131-001", Status: domain.StatusShipped},
		{EventID: "e-2", Kind: domain.NotifyAdminOrderStatus, OrderID: 1, OrderNumber: "EH-20240131-001", Status: domain.StatusShipped},
	}
	for _, event := range events {
		if err := producer.Publish(ctx, "1", event); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	consumer := messaging.NewConsumer(brokers, topic, "integration-test", logger, messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	handler := worker.NewNotificationHandler(api.URL, "unused", api.Client(), logger)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, handler.Handle) }()

	deadline := time.Now().Add(time.Minute)
	for len(sender.messages()) < len(events) {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d emails, got %d", len(events), len(sender.messages()))
		}
		time.Sleep(200 * time.Millisecond)
	}

	got := sender.messages()
	if got[0].To != "buyer@example.com" || got[1].To != "admin@ecohaat.com" {
		t.Errorf("unexpected recipients: %s, %s", got[0].To, got[1].To)
	}
}
