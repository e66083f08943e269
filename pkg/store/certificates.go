package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// InsertCertificate records the completion certificate for a document.
// The document id is the primary key, so a second finalize attempt fails
// loudly instead of silently issuing twice.
func (s *Store) InsertCertificate(ctx context.Context, q Querier, c *model.Certificate) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO certificates (document_id, storage_key, sha256, issued_at) VALUES ($1, $2, $3, $4)`,
		c.DocumentID, c.StorageKey, c.Sha256, c.IssuedAt)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *Store) GetCertificate(ctx context.Context, q Querier, documentID string) (*model.Certificate, error) {
	var c model.Certificate
	err := q.QueryRowContext(ctx,
		`SELECT document_id, storage_key, sha256, issued_at FROM certificates WHERE document_id = $1`,
		documentID).Scan(&c.DocumentID, &c.StorageKey, &c.Sha256, &c.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return &c, nil
}
