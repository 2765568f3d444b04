package domain

import "time"

const PaymentMethodCOD = "cod"

type ShippingAddress struct {
	Name          string `json:"name"`
	Division      string `json:"division"`
	District      string `json:"district"`
	StreetAddress string `json:"street_address"`
}

// TrackingEvent is one immutable entry of an order's tracking history.
type TrackingEvent struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
	// ItemID is set when the event records one line's transition; Status is
	// then that line's status, not the order's rolled-up status.
	ItemID    int64     `json:"item_id,omitempty"`
}

type OrderItem struct {
	ID                  int64     `json:"id"`
	OrderID             int64     `json:"order_id"`
	ProductID           int64     `json:"product_id"`
	ProductName         string    `json:"product_name"`
	SellerID            string    `json:"seller_id"`
	Quantity            int       `json:"quantity"`
	PriceAtPurchase     int64     `json:"price_at_purchase"`
	SellerEarning       int64     `json:"seller_earning"`
	Status              Status    `json:"item_status"`
	DenialReason        string    `json:"denial_reason,omitempty"`
	PaymentReceived     bool      `json:"payment_received"`
	PaymentSentToSeller bool      `json:"payment_sent_to_seller"`
	Version             int64     `json:"version"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Earning is the seller's gross for the line.
func (i OrderItem) Earning() int64 {
	return i.PriceAtPurchase * int64(i.Quantity)
}

type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	Subtotal        int64           `json:"subtotal"`
	DiscountAmount  int64           `json:"discount_amount"`
	DiscountCodeID  *int64          `json:"discount_code_id,omitempty"`
	DeliveryCharge  int64           `json:"delivery_charge"`
	CODCharge       int64           `json:"cod_charge"`
	Total           int64           `json:"total"`
	Phone           string          `json:"phone"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          Status          `json:"status"`
	TrackingHistory []TrackingEvent `json:"tracking_history"`
	Items           []OrderItem     `json:"items"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *Order) Item(id int64) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// HasSeller reports whether any line of the order belongs to sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

func (o *Order) SellerIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// EffectiveStatus is the item status, or the order status once the order
// itself reached delivery through an order-level action. Denied and
// cancelled lines keep their own status.
func (o *Order) EffectiveStatus(item *OrderItem) Status {
	if o.Status == StatusDelivered && !item.Status.Terminal() {
		return StatusDelivered
	}
	return item.Status
}

type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
