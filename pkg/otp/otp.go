// Package otp issues and verifies the short-lived numeric challenges that
// gate signature commits. Codes are never stored in cleartext; rows hold a
// bcrypt digest and are destroyed on first successful verification.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

const (
	// DefaultTTL is how long an issued code stays verifiable.
	DefaultTTL = 10 * time.Minute
	// DefaultCost is the bcrypt work factor for code digests.
	DefaultCost = 10

	codeMin  = 100000
	codeSpan = 900000
)

// GenerateCode draws a 6-digit decimal code uniformly from
// [100000, 999999] using the CSPRNG.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("draw otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Service issues and verifies codes against the relational store.
type Service struct {
	store *store.Store
	clock clock.Clock
	cost  int
	ttl   time.Duration
}

// NewService builds a Service. Zero cost or ttl select the defaults.
func NewService(st *store.Store, clk clock.Clock, cost int, ttl time.Duration) *Service {
	if clk == nil {
		clk = clock.System
	}
	if cost == 0 {
		cost = DefaultCost
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Service{store: st, clock: clk, cost: cost, ttl: ttl}
}

// Issue persists one delivery row for code. The same cleartext code may be
// issued to several recipients (one row per delivery channel); each row gets
// its own salted digest. The cleartext never touches the database.
func (s *Service) Issue(ctx context.Context, q store.Querier, recipient string, channel model.AuthChannel, otpContext, code string) (*model.OtpCode, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash otp code: %w", err)
	}
	now := s.clock()
	row := &model.OtpCode{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Channel:   channel,
		CodeHash:  string(hash),
		ExpiresAt: clock.Format(now.Add(s.ttl)),
		Context:   otpContext,
		CreatedAt: clock.Format(now),
	}
	if err := s.store.InsertOtp(ctx, q, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Verify resolves the most recent code row for any of the recipients in the
// given context, regardless of delivery channel, and consumes it on match.
//
// Failure modes: no row (never issued, or already consumed) and a digest
// mismatch both return ErrOtpWrong; a row past its expiry returns
// ErrOtpExpired and is left for the cleanup job.
func (s *Service) Verify(ctx context.Context, q store.Querier, recipients []string, otpContext, code string) (*model.OtpCode, error) {
	row, err := s.store.LatestOtpForRecipients(ctx, q, recipients, otpContext)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrOtpWrong
	}
	if err != nil {
		return nil, err
	}

	// Canonical timestamps compare chronologically as strings.
	if s.clock.Stamp() > row.ExpiresAt {
		return nil, model.ErrOtpExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(row.CodeHash), []byte(code)) != nil {
		return nil, model.ErrOtpWrong
	}

	if err := s.store.DeleteOtp(ctx, q, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// Sweep deletes rows past their expiry and reports how many were removed.
func (s *Service) Sweep(ctx context.Context, q store.Querier) (int64, error) {
	return s.store.DeleteExpiredOtps(ctx, q, s.clock.Stamp())
}
