package orders

import (
	"testing"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

func TestDeliveryCharge(t *testing.T) {
	tests := []struct {
		division string
		want     int64
	}{
		{"Dhaka", 60},
		{"Chattogram", 120},
		{"dhaka", 120},
		{"", 120},
	}

	for _, tt := range tests {
		if got := DeliveryCharge(tt.division); got != tt.want {
			t.Errorf("DeliveryCharge(%q): expected %d, got %d", tt.division, tt.want, got)
		}
	}
}

func TestCODCharge(t *testing.T) {
	tests := []struct {
		base int64
		want int64
	}{
		{1060, 11},
		{1000, 10},
		{1001, 11},
		{1, 1},
		{0, 0},
	}

	for _, tt := range tests {
		if got := CODCharge(tt.base); got != tt.want {
			t.Errorf("CODCharge(%d): expected %d, got %d", tt.base, tt.want, got)
		}
	}
}

func TestNewQuote(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int64
		division string
		discount *domain.AppliedDiscount
		want     Quote
	}{
		{
			name:     "dhaka without discount",
			subtotal: 1000,
			division: "Dhaka",
			want:     Quote{Subtotal: 1000, DeliveryCharge: 60, CODCharge: 11, Total: 1071},
		},
		{
			name:     "outside dhaka",
			subtotal: 2500,
			division: "Sylhet",
			want:     Quote{Subtotal: 2500, DeliveryCharge: 120, CODCharge: 27, Total: 2647},
		},
		{
			name:     "fixed discount",
			subtotal: 1000,
			division: "Dhaka",
			discount: &domain.AppliedDiscount{DiscountAmount: 200},
			want:     Quote{Subtotal: 1000, DiscountAmount: 200, DeliveryCharge: 60, CODCharge: 9, Total: 869},
		},
		{
			name:     "free shipping",
			subtotal: 1000,
			division: "Khulna",
			discount: &domain.AppliedDiscount{FreeShipping: true},
			want:     Quote{Subtotal: 1000, CODCharge: 10, Total: 1010},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewQuote(tt.subtotal, tt.division, tt.discount)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			if got.Total != got.Subtotal-got.DiscountAmount+got.DeliveryCharge+got.CODCharge {
				t.Errorf("total %d does not add up", got.Total)
			}
		})
	}
}
