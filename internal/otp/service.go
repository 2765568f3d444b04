// Package otp issues and verifies short-lived email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/ecohaat/internal/domain"
	"github.com/joao-fontenele/ecohaat/internal/mailer"
)

const (
	DefaultTTL  = 5 * time.Minute
	MaxAttempts = 5
)

var (
	ErrExpired         = fmt.Errorf("%w: code expired or not found", domain.ErrValidation)
	ErrInvalidCode     = fmt.Errorf("%w: invalid code", domain.ErrValidation)
	ErrTooManyAttempts = fmt.Errorf("%w: too many attempts, request a new code", domain.ErrValidation)
)

type Store interface {
	Save(ctx context.Context, email, hash string, ttl time.Duration) error
	Get(ctx context.Context, email string) (*Code, error)
	IncrAttempts(ctx context.Context, email string) (int, error)
	Delete(ctx context.Context, email string) error
}

type Service struct {
	store    Store
	sender   mailer.Sender
	renderer *mailer.Renderer
	ttl      time.Duration
	cost     int
	generate func() (string, error)
	logger   *slog.Logger
}

func NewService(store Store, sender mailer.Sender, renderer *mailer.Renderer, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:    store,
		sender:   sender,
		renderer: renderer,
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		generate: generateCode,
		logger:   logger,
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", domain.NewValidationError("email", "a valid email is required")
	}
	return strings.ToLower(addr.Address), nil
}

// Send issues a fresh code for email, replacing any pending one.
func (s *Service) Send(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	code, err := s.generate()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}

	if err := s.store.Save(ctx, email, string(hash), s.ttl); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}

	msg, err := s.renderer.OTP(email, code, s.ttl)
	if err == nil {
		err = s.sender.Send(ctx, msg)
	}
	if err != nil {
		if delErr := s.store.Delete(ctx, email); delErr != nil {
			s.logger.Error("failed to drop unsent otp", "error", delErr)
		}
		return fmt.Errorf("send otp: %w", err)
	}

	s.logger.Info("otp sent", "email", email)
	return nil
}

// Verify consumes the pending code on success. Each wrong guess counts
// against MaxAttempts; the code is dropped once they run out.
func (s *Service) Verify(ctx context.Context, rawEmail, code string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.NewValidationError("otp", "otp is required")
	}

	pending, err := s.store.Get(ctx, email)
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if pending == nil {
		return ErrExpired
	}
	if pending.Attempts >= MaxAttempts {
		s.drop(ctx, email)
		return ErrTooManyAttempts
	}

	err = bcrypt.CompareHashAndPassword([]byte(pending.Hash), []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		attempts, incrErr := s.store.IncrAttempts(ctx, email)
		if incrErr != nil {
			return fmt.Errorf("count otp attempt: %w", incrErr)
		}
		if attempts < 0 {
			return ErrExpired
		}
		if attempts >= MaxAttempts {
			s.drop(ctx, email)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("compare otp: %w", err)
	}

	s.drop(ctx, email)
	return nil
}

func (s *Service) drop(ctx context.Context, email string) {
	if err := s.store.Delete(ctx, email); err != nil {
		s.logger.Error("failed to delete otp", "error", err)
	}
}
