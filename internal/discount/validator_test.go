package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

type memoryStore struct {
	codes  map[string]*domain.DiscountCode
	uses   []domain.DiscountCodeUse
	buyers map[int64]string
}

func newMemoryStore(codes ...domain.DiscountCode) *memoryStore {
	s := &memoryStore{codes: make(map[string]*domain.DiscountCode), buyers: make(map[int64]string)}
	for i := range codes {
		dc := codes[i]
		if dc.ID == 0 {
			dc.ID = int64(i + 1)
		}
		s.codes[dc.Code] = &dc
	}
	return s
}

func (s *memoryStore) GetByCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	dc, ok := s.codes[code]
	if !ok {
		return nil, nil
	}
	copied := *dc
	return &copied, nil
}

func (s *memoryStore) CountUses(_ context.Context, codeID int64, userID string) (int, error) {
	n := 0
	for _, u := range s.uses {
		if u.CodeID == codeID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func ptr[T any](v T) *T {
	return &v
}

func TestValidator_Validate(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	store := newMemoryStore(
		domain.DiscountCode{Code: "SAVE20", Type: domain.DiscountPercentage, Value: 20, MaxDiscount: ptr(int64(500)), IsActive: true},
		domain.DiscountCode{Code: "FLAT300", Type: domain.DiscountFixed, Value: 300, IsActive: true},
		domain.DiscountCode{Code: "SHIPFREE", Type: domain.DiscountFreeShipping, IsActive: true},
		domain.DiscountCode{Code: "OFF", Type: domain.DiscountFixed, Value: 50, IsActive: false},
		domain.DiscountCode{Code: "SOON", Type: domain.DiscountFixed, Value: 50, IsActive: true, ValidFrom: ptr(now.Add(time.Hour))},
		domain.DiscountCode{Code: "OLD", Type: domain.DiscountFixed, Value: 50, IsActive: true, ValidUntil: ptr(now.Add(-time.Hour))},
		domain.DiscountCode{Code: "GONE", Type: domain.DiscountFixed, Value: 50, IsActive: true, MaxUses: ptr(10), UsesCount: 10},
		domain.DiscountCode{Code: "BIGCART", Type: domain.DiscountFixed, Value: 50, IsActive: true, MinOrderAmount: 1000},
		domain.DiscountCode{ID: 99, Code: "ONCE", Type: domain.DiscountPercentage, Value: 10, IsActive: true, MaxUses: ptr(100), UsesCount: 3, PerUserLimit: ptr(1)},
		domain.DiscountCode{Code: "HALF", Type: domain.DiscountPercentage, Value: 12.5, IsActive: true},
		domain.DiscountCode{Code: "EXPIRED", Type: domain.DiscountFixed, Value: 50, IsActive: false, ValidUntil: ptr(now.Add(-time.Hour))},
	)
	store.uses = append(store.uses, domain.DiscountCodeUse{CodeID: 99, UserID: "buyer-1", OrderID: 5})

	v := NewValidator(store)
	v.now = func() time.Time { return now }

	tests := []struct {
		name         string
		code         string
		cartTotal    int64
		userID       string
		wantCode     RuleCode
		wantAmount   int64
		wantFreeShip bool
	}{
		{name: "percentage capped", code: "SAVE20", cartTotal: 5000, wantAmount: 500},
		{name: "percentage under cap", code: "SAVE20", cartTotal: 1000, wantAmount: 200},
		{name: "fixed exceeding cart", code: "FLAT300", cartTotal: 200, wantAmount: 200},
		{name: "fixed", code: "FLAT300", cartTotal: 900, wantAmount: 300},
		{name: "lookup is trimmed and case-insensitive", code: "  save20 ", cartTotal: 1000, wantAmount: 200},
		{name: "free shipping", code: "SHIPFREE", cartTotal: 10, wantAmount: 0, wantFreeShip: true},
		{name: "rounded", code: "HALF", cartTotal: 999, wantAmount: 125},
		{name: "unknown", code: "NOPE", cartTotal: 100, wantCode: CodeNotFound},
		{name: "empty", code: "  ", cartTotal: 100, wantCode: CodeNotFound},
		{name: "inactive", code: "OFF", cartTotal: 100, wantCode: CodeInactive},
		{name: "inactive wins over expired", code: "EXPIRED", cartTotal: 100, wantCode: CodeInactive},
		{name: "not yet active", code: "SOON", cartTotal: 100, wantCode: CodeNotYetActive},
		{name: "expired", code: "OLD", cartTotal: 100, wantCode: CodeExpired},
		{name: "global limit", code: "GONE", cartTotal: 100, wantCode: CodeUsageLimitReached},
		{name: "below minimum", code: "BIGCART", cartTotal: 999, wantCode: CodeBelowMinimum},
		{name: "per user limit", code: "ONCE", cartTotal: 100, userID: "buyer-1", wantCode: CodePerUserLimitReached},
		{name: "per user limit for another user", code: "ONCE", cartTotal: 100, userID: "buyer-2", wantAmount: 10},
		{name: "per user limit skipped without user", code: "ONCE", cartTotal: 100, wantAmount: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := v.Validate(context.Background(), tt.code, tt.cartTotal, tt.userID)

			if tt.wantCode != "" {
				var ruleErr *RuleError
				if !errors.As(err, &ruleErr) {
					t.Fatalf("expected rule error %s, got %v", tt.wantCode, err)
				}
				if ruleErr.Code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, ruleErr.Code)
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Error("expected rule error to match ErrValidation")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if applied.DiscountAmount != tt.wantAmount {
				t.Errorf("expected amount %d, got %d", tt.wantAmount, applied.DiscountAmount)
			}
			if applied.FreeShipping != tt.wantFreeShip {
				t.Errorf("expected freeShipping %v, got %v", tt.wantFreeShip, applied.FreeShipping)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		dc   domain.DiscountCode
		want string
	}{
		{domain.DiscountCode{Type: domain.DiscountPercentage, Value: 20}, "20% off"},
		{domain.DiscountCode{Type: domain.DiscountPercentage, Value: 12.5}, "12.5% off"},
		{domain.DiscountCode{Type: domain.DiscountFixed, Value: 300}, "৳300 off"},
		{domain.DiscountCode{Type: domain.DiscountFreeShipping}, "Free shipping"},
	}

	for _, tt := range tests {
		if got := Label(&tt.dc); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
