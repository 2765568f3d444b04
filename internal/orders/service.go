package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/notify"
)

const (
	maxCommitAttempts = 3
	defaultTimeout    = 5 * time.Second
)

// Store persists orders. Reads return (nil, nil) when nothing matches.
// Commit must fail with domain.ErrConflict when a version guard in the change
// no longer matches.
type Store interface {
	Products(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	Create(ctx context.Context, order *domain.Order, redemption *Redemption) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByItemID(ctx context.Context, itemID int64) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	Commit(ctx context.Context, change *Change) error
}

type DiscountValidator interface {
	Validate(ctx context.Context, code string, cartTotal int64, userID string) (*domain.AppliedDiscount, error)
}

type Notifier interface {
	Enqueue(req notify.Request) bool
}

// Redemption is a discount use written in the order's transaction.
type Redemption struct {
	CodeID int64
	UserID string
}

// ListFilter narrows List; the zero value lists every order.
type ListFilter struct {
	BuyerID  string
	SellerID string
}

// Change is one atomic write against an order and some of its lines. The
// versions are the ones read before the change was staged.
type Change struct {
	OrderID      int64
	OrderVersion int64
	Status       domain.Status
	Event        *domain.TrackingEvent
	Items        []ItemChange
}

type ItemChange struct {
	ID                  int64
	Version             int64
	ProductID           int64
	Quantity            int
	Status              domain.Status
	DenialReason        string
	PaymentReceived     bool
	PaymentSentToSeller bool
	Restock             bool
}

func itemChange(item *domain.OrderItem) ItemChange {
	return ItemChange{
		ID:                  item.ID,
		Version:             item.Version,
		ProductID:           item.ProductID,
		Quantity:            item.Quantity,
		Status:              item.Status,
		DenialReason:        item.DenialReason,
		PaymentReceived:     item.PaymentReceived,
		PaymentSentToSeller: item.PaymentSentToSeller,
	}
}

type CreateOrderInput struct {
	Items           []domain.CartItem      `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	Phone           string                 `json:"phone"`
	PaymentMethod   string                 `json:"payment_method"`
	DiscountCode    string                 `json:"discount_code,omitempty"`
}

type Service struct {
	store       Store
	discounts   DiscountValidator
	notifier    Notifier
	logger      *slog.Logger
	timeout     time.Duration
	location    *time.Location
	now         func() time.Time
	transitions metric.Int64Counter
}

type Option func(*Service)

func WithDiscounts(v DiscountValidator) Option {
	return func(s *Service) { s.discounts = v }
}

// WithTimeout bounds every operation, including its commit retries.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocation sets the calendar used for order numbers.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type discardNotifier struct{}

func (discardNotifier) Enqueue(notify.Request) bool { return false }

func NewService(store Store, notifier Notifier, logger *slog.Logger, opts ...Option) (*Service, error) {
	transitions, err := otel.Meter("github.com/joao-fontenele/ecohaat/internal/orders").Int64Counter(
		"ecohaat.order.transitions",
		metric.WithDescription("Order lifecycle operations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}

	if notifier == nil {
		notifier = discardNotifier{}
	}

	s := &Service{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		timeout:     defaultTimeout,
		location:    time.UTC,
		now:         time.Now,
		transitions: transitions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) record(ctx context.Context, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrNotFound):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.transitions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) CreateOrder(ctx context.Context, caller domain.Caller, in CreateOrderInput) (order *domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, "create_order", err) }()

	if caller.Role != domain.RoleBuyer {
		return nil, fmt.Errorf("only buyers can place orders: %w", domain.ErrForbidden)
	}

	lines, err := validateCheckout(&in)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	products, err := s.store.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	now := s.now().In(s.location)
	order = &domain.Order{
		BuyerID:         caller.ID,
		Phone:           strings.TrimSpace(in.Phone),
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: in.ShippingAddress,
		Status:          domain.StatusPending,
		TrackingHistory: []domain.TrackingEvent{{
			Status:    domain.StatusPending,
			Timestamp: now,
			Note:      "Order placed successfully",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var subtotal int64
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok || !p.IsActive {
			return nil, domain.NewValidationError("items", fmt.Sprintf("product %d is not available", line.ProductID))
		}
		if p.Stock < line.Quantity {
			return nil, domain.NewValidationError("items", fmt.Sprintf("only %d of %s left in stock", p.Stock, p.Name))
		}
		earning := p.Price * int64(line.Quantity)
		subtotal += earning
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:       p.ID,
			ProductName:     p.Name,
			SellerID:        p.SellerID,
			Quantity:        line.Quantity,
			PriceAtPurchase: p.Price,
			SellerEarning:   earning,
			Status:          domain.StatusPending,
			UpdatedAt:       now,
		})
	}

	var (
		applied    *domain.AppliedDiscount
		redemption *Redemption
	)
	if code := strings.TrimSpace(in.DiscountCode); code != "" {
		if s.discounts == nil {
			return nil, domain.NewValidationError("discount_code", "discount codes are not accepted")
		}
		applied, err = s.discounts.Validate(ctx, code, subtotal, caller.ID)
		if err != nil {
			return nil, err
		}
		order.DiscountCodeID = &applied.CodeID
		redemption = &Redemption{CodeID: applied.CodeID, UserID: caller.ID}
	}

	quote := NewQuote(subtotal, in.ShippingAddress.Division, applied)
	order.Subtotal = quote.Subtotal
	order.DiscountAmount = quote.DiscountAmount
	order.DeliveryCharge = quote.DeliveryCharge
	order.CODCharge = quote.CODCharge
	order.Total = quote.Total

	if err := s.store.Create(ctx, order, redemption); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "buyer_id", order.BuyerID, "total", order.Total)
	s.notifyOrderPlaced(order)

	return order, nil
}

// validateCheckout checks the form and merges cart lines for the same
// product, keeping the first-seen order.
func validateCheckout(in *CreateOrderInput) ([]domain.CartItem, error) {
	if len(in.Items) == 0 {
		return nil, domain.NewValidationError("items", "cart is empty")
	}

	addr := in.ShippingAddress
	switch {
	case strings.TrimSpace(addr.Name) == "":
		return nil, domain.NewValidationError("shipping_address.name", "is required")
	case strings.TrimSpace(addr.Division) == "":
		return nil, domain.NewValidationError("shipping_address.division", "is required")
	case strings.TrimSpace(addr.District) == "":
		return nil, domain.NewValidationError("shipping_address.district", "is required")
	case strings.TrimSpace(addr.StreetAddress) == "":
		return nil, domain.NewValidationError("shipping_address.street_address", "is required")
	case strings.TrimSpace(in.Phone) == "":
		return nil, domain.NewValidationError("phone", "is required")
	}
	if in.PaymentMethod != "" && in.PaymentMethod != domain.PaymentMethodCOD {
		return nil, domain.NewValidationError("payment_method", "only cash on delivery is supported")
	}

	index := make(map[int64]int, len(in.Items))
	var lines []domain.CartItem
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, domain.NewValidationError("items", fmt.Sprintf("quantity for product %d must be positive", item.ProductID))
		}
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, item)
	}
	return lines, nil
}

// mutate loads an order, lets apply validate and stage a change on it, and
// commits. Losing a version race re-runs apply against a fresh read. A nil
// change from apply means there is nothing to write.
func (s *Service) mutate(ctx context.Context, load func(context.Context) (*domain.Order, error), apply func(*domain.Order) (*Change, error)) (*domain.Order, *Change, error) {
	for attempt := 1; ; attempt++ {
		order, err := load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return nil, nil, domain.ErrNotFound
		}

		change, err := apply(order)
		if err != nil {
			return nil, nil, err
		}
		if change == nil {
			return order, nil, nil
		}

		err = s.store.Commit(ctx, change)
		if err == nil {
			order.Version++
			for _, ic := range change.Items {
				if item, ok := order.Item(ic.ID); ok {
					item.Version++
				}
			}
			return order, change, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= maxCommitAttempts {
			return nil, nil, err
		}
		s.logger.Warn("order changed concurrently, retrying", "order_id", order.ID, "attempt", attempt)
	}
}

func (s *Service) byID(id int64) func(context.Context) (*domain.Order, error) {
	return func(ctx context.Context) (*domain.Order, error) {
		return s.store.GetByID(ctx, id)
	}
}

func (s *Service) byItemID(id int64) func(context.Context) (*domain.Order, error) {
	return func(ctx context.Context) (*domain.Order, error) {
		return s.store.GetByItemID(ctx, id)
	}
}

type itemStep struct {
	op       string
	to       domain.Status
	from     []domain.Status
	adminMay bool
	note     func(item *domain.OrderItem) string
}

var (
	stepAccept = itemStep{
		op:   "accept_item",
		to:   domain.StatusConfirmed,
		from: []domain.Status{domain.StatusPending},
		note: func(i *domain.OrderItem) string { return fmt.Sprintf("Seller confirmed %s", i.ProductName) },
	}
	stepDeny = itemStep{
		op:   "deny_item",
		to:   domain.StatusDenied,
		from: []domain.Status{domain.StatusPending},
		note: func(i *domain.OrderItem) string {
			return fmt.Sprintf("Seller denied %s: %s", i.ProductName, i.DenialReason)
		},
	}
	stepProcessing = itemStep{
		op:   "mark_processing",
		to:   domain.StatusProcessing,
		from: []domain.Status{domain.StatusConfirmed},
		note: func(i *domain.OrderItem) string { return fmt.Sprintf("%s is being prepared", i.ProductName) },
	}
	stepShipped = itemStep{
		op:   "mark_shipped",
		to:   domain.StatusShipped,
		from: []domain.Status{domain.StatusConfirmed, domain.StatusProcessing},
		note: func(i *domain.OrderItem) string { return fmt.Sprintf("%s has been shipped", i.ProductName) },
	}
	stepAtStation = itemStep{
		op:       "mark_at_station",
		to:       domain.StatusAtStation,
		from:     []domain.Status{domain.StatusShipped},
		adminMay: true,
		note: func(i *domain.OrderItem) string {
			return fmt.Sprintf("%s arrived at the delivery station", i.ProductName)
		},
	}
	stepReachedDestination = itemStep{
		op:       "mark_reached_destination",
		to:       domain.StatusReachedDestination,
		from:     []domain.Status{domain.StatusShipped, domain.StatusAtStation},
		adminMay: true,
		note: func(i *domain.OrderItem) string {
			return fmt.Sprintf("%s reached your area and is ready for delivery", i.ProductName)
		},
	}
)

func canActOnItem(caller domain.Caller, item *domain.OrderItem, adminMay bool) bool {
	if adminMay && caller.IsAdmin() {
		return true
	}
	return caller.IsSeller() && item.SellerID == caller.ID
}

func (s *Service) transitionItem(ctx context.Context, caller domain.Caller, itemID int64, step itemStep, reason string) (order *domain.Order, item *domain.OrderItem, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, step.op, err) }()

	order, _, err = s.mutate(ctx, s.byItemID(itemID), func(o *domain.Order) (*Change, error) {
		it, ok := o.Item(itemID)
		if !ok {
			return nil, domain.ErrNotFound
		}
		if !canActOnItem(caller, it, step.adminMay) {
			return nil, domain.ErrForbidden
		}
		if err := domain.CheckTransition(it.Status, step.to, step.from...); err != nil {
			return nil, err
		}

		it.Status = step.to
		if step.to == domain.StatusDenied {
			it.DenialReason = reason
		}
		it.UpdatedAt = s.now()

		event := domain.TrackingEvent{
			Status:    step.to,
			Timestamp: s.now(),
			Note:      step.note(it),
			ItemID:    it.ID,
		}
		o.Status = domain.Rollup(o.Items)
		o.TrackingHistory = append(o.TrackingHistory, event)

		return &Change{
			OrderID:      o.ID,
			OrderVersion: o.Version,
			Status:       o.Status,
			Event:        &event,
			Items:        []ItemChange{itemChange(it)},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	item, _ = order.Item(itemID)
	s.logger.Info("order item transitioned", "order_id", order.ID, "item_id", itemID, "status", item.Status, "order_status", order.Status)
	return order, item, nil
}

func (s *Service) AcceptItem(ctx context.Context, caller domain.Caller, itemID int64) (*domain.Order, error) {
	order, item, err := s.transitionItem(ctx, caller, itemID, stepAccept, "")
	if err != nil {
		return nil, err
	}
	s.notifyBuyer(order, item, "Order item confirmed")
	return visibleTo(order, caller), nil
}

func (s *Service) DenyItem(ctx context.Context, caller domain.Caller, itemID int64, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := domain.NewValidationError("reason", "a reason is required to deny an item")
		s.record(ctx, stepDeny.op, err)
		return nil, err
	}

	order, item, err := s.transitionItem(ctx, caller, itemID, stepDeny, reason)
	if err != nil {
		return nil, err
	}
	s.notifyBuyer(order, item, "Order item denied")
	return visibleTo(order, caller), nil
}

func (s *Service) MarkProcessing(ctx context.Context, caller domain.Caller, itemID int64) (*domain.Order, error) {
	order, _, err := s.transitionItem(ctx, caller, itemID, stepProcessing, "")
	if err != nil {
		return nil, err
	}
	return visibleTo(order, caller), nil
}

func (s *Service) MarkShipped(ctx context.Context, caller domain.Caller, itemID int64) (*domain.Order, error) {
	order, item, err := s.transitionItem(ctx, caller, itemID, stepShipped, "")
	if err != nil {
		return nil, err
	}
	s.notifyBuyer(order, item, "Order item shipped")
	s.notifySeller(order, item.SellerID, item.Status, "Item shipped", lastNote(order))
	s.notifyAdmins(order, "Order item shipped", lastNote(order))
	return visibleTo(order, caller), nil
}

func (s *Service) MarkAtStation(ctx context.Context, caller domain.Caller, itemID int64) (*domain.Order, error) {
	order, _, err := s.transitionItem(ctx, caller, itemID, stepAtStation, "")
	if err != nil {
		return nil, err
	}
	return visibleTo(order, caller), nil
}

func (s *Service) MarkReachedDestination(ctx context.Context, caller domain.Caller, itemID int64) (*domain.Order, error) {
	order, item, err := s.transitionItem(ctx, caller, itemID, stepReachedDestination, "")
	if err != nil {
		return nil, err
	}
	s.notifyBuyer(order, item, "Ready for delivery")
	return visibleTo(order, caller), nil
}

// cascade moves every non-terminal line to status.
func cascade(order *domain.Order, status domain.Status, now time.Time) []ItemChange {
	var changes []ItemChange
	for i := range order.Items {
		item := &order.Items[i]
		if item.Status.Terminal() {
			continue
		}
		item.Status = status
		item.UpdatedAt = now
		ic := itemChange(item)
		ic.Restock = status == domain.StatusCancelled
		changes = append(changes, ic)
	}
	return changes
}

// MarkDelivered confirms delivery of the whole order. The buyer may only do
// so once every active line reached the destination; admins may from any
// non-terminal status. Confirming an already delivered order is a no-op.
func (s *Service) MarkDelivered(ctx context.Context, caller domain.Caller, orderID int64) (order *domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, "mark_delivered", err) }()

	order, change, err := s.mutate(ctx, s.byID(orderID), func(o *domain.Order) (*Change, error) {
		admin := caller.IsAdmin()
		if !admin && o.BuyerID != caller.ID {
			return nil, domain.ErrForbidden
		}
		if o.Status == domain.StatusDelivered {
			return nil, nil
		}

		var accepted []domain.Status
		note := "Delivery confirmed by buyer"
		if admin {
			note = "Marked as delivered by admin"
		} else {
			accepted = []domain.Status{domain.StatusReachedDestination}
		}
		if err := domain.CheckTransition(o.Status, domain.StatusDelivered, accepted...); err != nil {
			return nil, err
		}

		now := s.now()
		items := cascade(o, domain.StatusDelivered, now)
		event := domain.TrackingEvent{Status: domain.StatusDelivered, Timestamp: now, Note: note}
		o.Status = domain.StatusDelivered
		o.TrackingHistory = append(o.TrackingHistory, event)

		return &Change{OrderID: o.ID, OrderVersion: o.Version, Status: o.Status, Event: &event, Items: items}, nil
	})
	if err != nil {
		return nil, err
	}

	if change != nil {
		s.logger.Info("order delivered", "order_id", order.ID, "by", caller.Role)
		s.notifyOrderBuyer(order, "Order delivered", lastNote(order))
	}
	return visibleTo(order, caller), nil
}

// CancelOrder cancels the order and its open lines, returning their stock.
// Buyers may cancel only while every open line is still pending.
func (s *Service) CancelOrder(ctx context.Context, caller domain.Caller, orderID int64, reason string) (order *domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, "cancel_order", err) }()

	reason = strings.TrimSpace(reason)

	order, _, err = s.mutate(ctx, s.byID(orderID), func(o *domain.Order) (*Change, error) {
		admin := caller.IsAdmin()
		if !admin && o.BuyerID != caller.ID {
			return nil, domain.ErrForbidden
		}

		var accepted []domain.Status
		note := "Order cancelled by admin"
		if !admin {
			accepted = []domain.Status{domain.StatusPending}
			note = "Order cancelled by buyer"
		}
		if err := domain.CheckTransition(o.Status, domain.StatusCancelled, accepted...); err != nil {
			return nil, err
		}
		if !admin {
			for _, item := range o.Items {
				if !item.Status.Terminal() && item.Status.Normalize() != domain.StatusPending {
					return nil, &domain.TransitionError{From: item.Status, To: domain.StatusCancelled}
				}
			}
		}
		if reason != "" {
			note += ": " + reason
		}

		now := s.now()
		items := cascade(o, domain.StatusCancelled, now)
		event := domain.TrackingEvent{Status: domain.StatusCancelled, Timestamp: now, Note: note}
		o.Status = domain.StatusCancelled
		o.TrackingHistory = append(o.TrackingHistory, event)

		return &Change{OrderID: o.ID, OrderVersion: o.Version, Status: o.Status, Event: &event, Items: items}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", "order_id", order.ID, "by", caller.Role)
	s.notifyOrderBuyer(order, "Order cancelled", lastNote(order))
	for _, sellerID := range order.SellerIDs() {
		s.notifySeller(order, sellerID, domain.StatusCancelled, "Order cancelled", lastNote(order))
	}
	return visibleTo(order, caller), nil
}

func (s *Service) MarkPaymentReceived(ctx context.Context, caller domain.Caller, itemID int64) (order *domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, "mark_payment_received", err) }()

	if !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	order, _, err = s.mutate(ctx, s.byItemID(itemID), func(o *domain.Order) (*Change, error) {
		item, ok := o.Item(itemID)
		if !ok {
			return nil, domain.ErrNotFound
		}
		if o.EffectiveStatus(item) != domain.StatusDelivered {
			return nil, &domain.StateError{Op: "payment_received", Reason: "item has not been delivered"}
		}
		if item.PaymentReceived {
			return nil, &domain.StateError{Op: "payment_received", Reason: "payment already recorded"}
		}

		item.PaymentReceived = true
		item.UpdatedAt = s.now()
		return &Change{OrderID: o.ID, OrderVersion: o.Version, Status: o.Status, Items: []ItemChange{itemChange(item)}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment received", "order_id", order.ID, "item_id", itemID)
	return order, nil
}

func (s *Service) MarkPaymentSentToSeller(ctx context.Context, caller domain.Caller, itemID int64) (order *domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() { s.record(ctx, "mark_payment_sent", err) }()

	if !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	order, _, err = s.mutate(ctx, s.byItemID(itemID), func(o *domain.Order) (*Change, error) {
		item, ok := o.Item(itemID)
		if !ok {
			return nil, domain.ErrNotFound
		}
		if !item.PaymentReceived {
			return nil, &domain.StateError{Op: "payment_sent", Reason: "payment has not been received"}
		}
		if item.PaymentSentToSeller {
			return nil, &domain.StateError{Op: "payment_sent", Reason: "payout already sent"}
		}

		item.PaymentSentToSeller = true
		item.UpdatedAt = s.now()
		return &Change{OrderID: o.ID, OrderVersion: o.Version, Status: o.Status, Items: []ItemChange{itemChange(item)}}, nil
	})
	if err != nil {
		return nil, err
	}

	item, _ := order.Item(itemID)
	s.logger.Info("payout sent", "order_id", order.ID, "item_id", itemID, "seller_id", item.SellerID, "amount", item.Earning())
	s.notifyPayout(order, item)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, caller domain.Caller, orderID int64) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}

	visible := visibleTo(order, caller)
	if visible == nil {
		return nil, domain.ErrForbidden
	}
	return visible, nil
}

// ListOrders returns the caller's own orders for buyers, orders carrying
// their lines for sellers, and everything for admins. Newest first.
func (s *Service) ListOrders(ctx context.Context, caller domain.Caller) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var filter ListFilter
	switch {
	case caller.IsAdmin():
	case caller.Role == domain.RoleSeller || caller.Role == domain.RoleUnverified:
		filter.SellerID = caller.ID
	default:
		filter.BuyerID = caller.ID
	}

	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]domain.Order, 0, len(orders))
	for i := range orders {
		if visible := visibleTo(&orders[i], caller); visible != nil {
			out = append(out, *visible)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func lastNote(order *domain.Order) string {
	if n := len(order.TrackingHistory); n > 0 {
		return order.TrackingHistory[n-1].Note
	}
	return ""
}
