package domain

import "time"

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeShipping:
		return true
	}
	return false
}

type DiscountCode struct {
	ID             int64        `json:"id"`
	Code           string       `json:"code"`
	Description    string       `json:"description,omitempty"`
	Type           DiscountType `json:"discount_type"`
	Value          float64      `json:"discount_value"`
	MaxDiscount    *int64       `json:"max_discount,omitempty"`
	MinOrderAmount int64        `json:"min_order_amount"`
	MaxUses        *int         `json:"max_uses,omitempty"`
	UsesCount      int          `json:"uses_count"`
	PerUserLimit   *int         `json:"per_user_limit,omitempty"`
	ValidFrom      *time.Time   `json:"valid_from,omitempty"`
	ValidUntil     *time.Time   `json:"valid_until,omitempty"`
	IsActive       bool         `json:"is_active"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type DiscountCodeUse struct {
	ID        int64     `json:"id"`
	CodeID    int64     `json:"discount_code_id"`
	UserID    string    `json:"user_id"`
	OrderID   int64     `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AppliedDiscount is the outcome of a successful validation.
type AppliedDiscount struct {
	CodeID         int64        `json:"code_id"`
	Code           string       `json:"code"`
	Type           DiscountType `json:"type"`
	DiscountAmount int64        `json:"discountAmount"`
	Label          string       `json:"label"`
	FreeShipping   bool         `json:"freeShipping"`
}
