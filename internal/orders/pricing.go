package orders

import "github.com/joao-fontenele/ecohaat/internal/domain"

const (
	DeliveryChargeDhaka   int64 = 60
	DeliveryChargeOutside int64 = 120
	codChargePercent      int64 = 1
)

func DeliveryCharge(division string) int64 {
	if division == "Dhaka" {
		return DeliveryChargeDhaka
	}
	return DeliveryChargeOutside
}

// CODCharge is one percent of base rounded up to the next whole unit.
func CODCharge(base int64) int64 {
	if base <= 0 {
		return 0
	}
	return (base*codChargePercent + 99) / 100
}

type Quote struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discount_amount"`
	DeliveryCharge int64 `json:"delivery_charge"`
	CODCharge      int64 `json:"cod_charge"`
	Total          int64 `json:"total"`
}

// NewQuote prices a cash-on-delivery checkout. discount may be nil.
func NewQuote(subtotal int64, division string, discount *domain.AppliedDiscount) Quote {
	q := Quote{Subtotal: subtotal, DeliveryCharge: DeliveryCharge(division)}
	if discount != nil {
		q.DiscountAmount = min(discount.DiscountAmount, subtotal)
		if discount.FreeShipping {
			q.DeliveryCharge = 0
		}
	}

	base := q.Subtotal - q.DiscountAmount + q.DeliveryCharge
	q.CODCharge = CODCharge(base)
	q.Total = base + q.CODCharge
	return q
}
