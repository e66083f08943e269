package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// InsertShareToken persists the hash of a freshly minted invite token.
func (s *Store) InsertShareToken(ctx context.Context, q Querier, t *model.ShareToken) error {
	query := `
		INSERT INTO share_tokens (token_hash, document_id, signer_id, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := q.ExecContext(ctx, query, t.TokenHash, t.DocumentID, t.SignerID, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert share token: %w", err)
	}
	return nil
}

// GetShareTokenByHash resolves a token hash. Miss maps to ErrInvalidToken:
// a wrong token and a never-issued token must be indistinguishable.
func (s *Store) GetShareTokenByHash(ctx context.Context, q Querier, tokenHash string) (*model.ShareToken, error) {
	var (
		t        model.ShareToken
		consumed sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT token_hash, document_id, signer_id, expires_at, consumed_at FROM share_tokens WHERE token_hash = $1`,
		tokenHash).Scan(&t.TokenHash, &t.DocumentID, &t.SignerID, &t.ExpiresAt, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("get share token: %w", err)
	}
	t.ConsumedAt = fromNullString(consumed)
	return &t, nil
}

// ConsumeShareToken stamps the token as used. Bookkeeping only: terminal
// signer status is what actually blocks reuse.
func (s *Store) ConsumeShareToken(ctx context.Context, q Querier, tokenHash, atISO string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE share_tokens SET consumed_at = $1 WHERE token_hash = $2 AND consumed_at IS NULL`,
		atISO, tokenHash)
	if err != nil {
		return fmt.Errorf("consume share token: %w", err)
	}
	return nil
}
