package discount

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

type RuleCode string

const (
	CodeNotFound            RuleCode = "NOT_FOUND"
	CodeInactive            RuleCode = "INACTIVE"
	CodeNotYetActive        RuleCode = "NOT_YET_ACTIVE"
	CodeExpired             RuleCode = "EXPIRED"
	CodeUsageLimitReached   RuleCode = "USAGE_LIMIT_REACHED"
	CodeBelowMinimum        RuleCode = "BELOW_MINIMUM"
	CodePerUserLimitReached RuleCode = "PER_USER_LIMIT_REACHED"
)

var ruleMessages = map[RuleCode]string{
	CodeNotFound:            "invalid discount code",
	CodeInactive:            "this discount code is no longer active",
	CodeNotYetActive:        "this discount code is not active yet",
	CodeExpired:             "this discount code has expired",
	CodeUsageLimitReached:   "this discount code has reached its usage limit",
	CodeBelowMinimum:        "order total is below the minimum for this code",
	CodePerUserLimitReached: "you have already used this discount code",
}

// RuleError is a discount rule violation. It matches domain.ErrValidation.
type RuleError struct {
	Code    RuleCode
	Message string
}

func newRuleError(code RuleCode) *RuleError {
	return &RuleError{Code: code, Message: ruleMessages[code]}
}

func (e *RuleError) Error() string {
	return e.Message
}

func (e *RuleError) Is(target error) bool {
	return target == domain.ErrValidation
}

type Lookup interface {
	GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error)
	CountUses(ctx context.Context, codeID int64, userID string) (int, error)
}

// Validator checks a code against a cart total without recording a use.
type Validator struct {
	store Lookup
	now   func() time.Time
}

func NewValidator(store Lookup) *Validator {
	return &Validator{store: store, now: time.Now}
}

// NormalizeCode is the canonical form codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate runs the rules in order and stops at the first failure, which is
// returned as a *RuleError. userID may be empty for anonymous carts.
func (v *Validator) Validate(ctx context.Context, code string, cartTotal int64, userID string) (*domain.AppliedDiscount, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, newRuleError(CodeNotFound)
	}

	dc, err := v.store.GetByCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("get discount code: %w", err)
	}
	if dc == nil {
		return nil, newRuleError(CodeNotFound)
	}

	now := v.now()
	switch {
	case !dc.IsActive:
		return nil, newRuleError(CodeInactive)
	case dc.ValidFrom != nil && now.Before(*dc.ValidFrom):
		return nil, newRuleError(CodeNotYetActive)
	case dc.ValidUntil != nil && now.After(*dc.ValidUntil):
		return nil, newRuleError(CodeExpired)
	case dc.MaxUses != nil && dc.UsesCount >= *dc.MaxUses:
		return nil, newRuleError(CodeUsageLimitReached)
	case cartTotal < dc.MinOrderAmount:
		return nil, newRuleError(CodeBelowMinimum)
	}

	if userID != "" && dc.PerUserLimit != nil {
		used, err := v.store.CountUses(ctx, dc.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("count discount uses: %w", err)
		}
		if used >= *dc.PerUserLimit {
			return nil, newRuleError(CodePerUserLimitReached)
		}
	}

	amount, freeShipping := Amount(dc, cartTotal)

	return &domain.AppliedDiscount{
		CodeID:         dc.ID,
		Code:           dc.Code,
		Type:           dc.Type,
		DiscountAmount: amount,
		Label:          Label(dc),
		FreeShipping:   freeShipping,
	}, nil
}

// Amount computes the rounded discount for cartTotal. Free shipping yields
// zero and leaves the delivery charge to the caller.
func Amount(dc *domain.DiscountCode, cartTotal int64) (int64, bool) {
	var amount float64
	switch dc.Type {
	case domain.DiscountPercentage:
		amount = float64(cartTotal) * dc.Value / 100
		if dc.MaxDiscount != nil && amount > float64(*dc.MaxDiscount) {
			amount = float64(*dc.MaxDiscount)
		}
	case domain.DiscountFixed:
		amount = math.Min(dc.Value, float64(cartTotal))
	case domain.DiscountFreeShipping:
		return 0, true
	}
	if amount < 0 {
		amount = 0
	}
	return int64(math.Round(amount)), false
}

func Label(dc *domain.DiscountCode) string {
	value := strconv.FormatFloat(dc.Value, 'f', -1, 64)
	switch dc.Type {
	case domain.DiscountPercentage:
		return value + "% off"
	case domain.DiscountFixed:
		return "৳" + value + " off"
	case domain.DiscountFreeShipping:
		return "Free shipping"
	}
	return dc.Code
}
