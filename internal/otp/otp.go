// Package otp issues and verifies the one-time codes that confirm a new
// account's email address.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/config"
)

const codeDigits = 6

var (
	ErrCooldown        = apperr.Validation("a code was sent recently, please wait before requesting another")
	ErrCodeExpired     = apperr.Validation("verification code expired or not found")
	ErrInvalidCode     = apperr.Validation("invalid verification code")
	ErrTooManyAttempts = apperr.Validation("too many invalid attempts, request a new code")
)

// Service issues codes, mails them and verifies them.
type Service struct {
	store    Store
	mailer   Mailer
	cfg      config.OTPConfig
	now      func() time.Time
	generate func() (string, error)
	log      *logrus.Logger
}

func NewService(store Store, mailer Mailer, cfg config.OTPConfig, log *logrus.Logger) *Service {
	return &Service{
		store:    store,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
		generate: GenerateCode,
		log:      log,
	}
}

// Issue sends a fresh code to email, replacing any previous one.
func (s *Service) Issue(ctx context.Context, email, name string) error {
	ok, err := s.store.Acquire(ctx, email, s.cfg.ResendCooldown)
	if err != nil {
		return apperr.Internal("otp cooldown", err)
	}
	if !ok {
		return ErrCooldown
	}

	code, err := s.generate()
	if err != nil {
		return apperr.Internal("generate otp", err)
	}
	rec := Record{CodeHash: Hash(code), ExpiresAt: s.now().Add(s.cfg.TTL)}
	if err := s.store.Save(ctx, email, rec, s.cfg.TTL); err != nil {
		return apperr.Internal("save otp", err)
	}

	body := fmt.Sprintf("Hello %s,\n\nYour verification code is %s. It expires in %d minutes.\n",
		name, code, int(s.cfg.TTL.Minutes()))
	if err := s.mailer.Send(ctx, email, "Your verification code", body); err != nil {
		_ = s.store.Delete(ctx, email)
		return apperr.Internal("send otp", err)
	}

	s.log.WithField("email", email).Info("verification code issued")
	return nil
}

// Verify checks code against the stored record. A successful check consumes
// the code. Every attempt is counted before the comparison, so parallel
// guesses share one budget.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	rec, err := s.store.Get(ctx, email)
	if err != nil {
		return apperr.Internal("load otp", err)
	}
	now := s.now()
	if rec == nil || !now.Before(rec.ExpiresAt) {
		return ErrCodeExpired
	}

	attempts, err := s.store.IncrAttempts(ctx, email, rec.ExpiresAt.Sub(now))
	if err != nil {
		return apperr.Internal("count otp attempt", err)
	}
	limit := int64(s.cfg.MaxAttempts)
	if attempts > limit {
		_ = s.store.Delete(ctx, email)
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(rec.CodeHash), []byte(Hash(code))) == 1 {
		if err := s.store.Delete(ctx, email); err != nil {
			return apperr.Internal("consume otp", err)
		}
		return nil
	}

	if attempts == limit {
		_ = s.store.Delete(ctx, email)
		s.log.WithField("email", email).Warn("verification code locked after too many attempts")
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

// GenerateCode returns a uniformly random numeric code.
func GenerateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// Hash returns the hex SHA-256 of code.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
