package domain

import "time"

type NotificationKind string

const (
	NotifyBuyerOrderStatus  NotificationKind = "buyer_order_status"
	NotifySellerOrderStatus NotificationKind = "seller_order_status"
	NotifyAdminOrderStatus  NotificationKind = "admin_order_status"
	NotifySellerPayout      NotificationKind = "seller_payout"
)

// Notification is an in-app message addressed to one user, optionally
// mirrored by email.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	OrderID   int64            `json:"order_id,omitempty"`
	Read      bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationEvent is the message published for the email worker once the
// in-app row exists. Admin events carry no recipient; the mail endpoint
// resolves the admin list itself.
type NotificationEvent struct {
	EventID     string           `json:"event_id"`
	Kind        NotificationKind `json:"kind"`
	Email       string           `json:"email,omitempty"`
	RecipientID string           `json:"recipient_id,omitempty"`
	OrderID     int64            `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Status      Status           `json:"status"`
	Note        string           `json:"note"`
	BuyerName   string           `json:"buyer_name,omitempty"`
	Amount      int64            `json:"amount,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
