package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// InsertOtp persists one delivered code (one row per channel).
func (s *Store) InsertOtp(ctx context.Context, q Querier, o *model.OtpCode) error {
	query := `
		INSERT INTO otp_codes (id, recipient, channel, code_hash, expires_at, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.ExecContext(ctx, query,
		o.ID, o.Recipient, o.Channel, o.CodeHash, o.ExpiresAt, o.Context, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

// LatestOtpForRecipients returns the most recent code row matching any of
// the recipients in the given context, regardless of delivery channel. When
// codes were sent over several channels close in time, the newest wins.
func (s *Store) LatestOtpForRecipients(ctx context.Context, q Querier, recipients []string, otpContext string) (*model.OtpCode, error) {
	if len(recipients) == 0 {
		return nil, model.ErrNotFound
	}

	placeholders := make([]string, len(recipients))
	args := make([]any, 0, len(recipients)+1)
	args = append(args, otpContext)
	for i, r := range recipients {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, r)
	}

	query := `SELECT id, recipient, channel, code_hash, expires_at, context, created_at
		FROM otp_codes
		WHERE context = $1 AND recipient IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at DESC LIMIT 1`

	var o model.OtpCode
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&o.ID, &o.Recipient, &o.Channel, &o.CodeHash, &o.ExpiresAt, &o.Context, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest otp: %w", err)
	}
	return &o, nil
}

// DeleteOtp destroys a code row. Called on successful verification so a
// code can never match twice.
func (s *Store) DeleteOtp(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM otp_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// DeleteExpiredOtps clears codes whose expiry has passed. Hygiene only;
// verification already rejects stale rows.
func (s *Store) DeleteExpiredOtps(ctx context.Context, q Querier, nowISO string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, nowISO)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	return res.RowsAffected()
}
