package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

const documentColumns = `id, tenant_id, owner_id, title, mime_type, size_bytes, storage_key, sha256, status, page_count, deadline_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*model.Document, error) {
	var (
		d        model.Document
		deadline sql.NullString
	)
	err := r.Scan(&d.ID, &d.TenantID, &d.OwnerID, &d.Title, &d.MimeType, &d.Size,
		&d.StorageKey, &d.Sha256, &d.Status, &d.PageCount, &deadline, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		d.DeadlineAt = &deadline.String
	}
	return &d, nil
}

// InsertDocument writes a new document row.
func (s *Store) InsertDocument(ctx context.Context, q Querier, d *model.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, owner_id, title, mime_type, size_bytes, storage_key, sha256, status, page_count, deadline_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := q.ExecContext(ctx, query,
		d.ID, d.TenantID, d.OwnerID, d.Title, d.MimeType, d.Size,
		d.StorageKey, d.Sha256, d.Status, d.PageCount, nullable(d.DeadlineAt), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument fetches a document by id. Tenant scoping happens in the
// service layer so a cross-tenant miss and a true miss are the same error.
func (s *Store) GetDocument(ctx context.Context, q Querier, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

// FindDocumentBySha256 locates the most recent document whose content hash
// matches. Used by the provenance validator.
func (s *Store) FindDocumentBySha256(ctx context.Context, q Querier, sha string) (*model.Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE sha256 = $1 ORDER BY created_at DESC LIMIT 1`, sha)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document by sha256: %w", err)
	}
	return d, nil
}

// ListDocuments returns a page of the tenant's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, q Querier, tenantID string, limit, offset int) ([]*model.Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDocumentsByTenant returns the tenant's total document count.
func (s *Store) CountDocumentsByTenant(ctx context.Context, q Querier, tenantID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// CountDocumentsCreatedSince counts tenant documents created at or after the
// given canonical timestamp. Feeds plan-limit checks.
func (s *Store) CountDocumentsCreatedSince(ctx context.Context, q Querier, tenantID, sinceISO string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, sinceISO).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents since: %w", err)
	}
	return n, nil
}

// UpdateDocumentStatus moves the document to a new lifecycle status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, q Querier, id string, status model.DocumentStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireOneRow(res, "document", id)
}

// FinalizeDocument records the stamped artifact: new storage key, new
// content hash, SIGNED status.
func (s *Store) FinalizeDocument(ctx context.Context, q Querier, id, storageKey, sha256 string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE documents SET status = $1, storage_key = $2, sha256 = $3 WHERE id = $4`,
		model.DocumentSigned, storageKey, sha256, id)
	if err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return requireOneRow(res, "document", id)
}

// ListDocumentsWithDeadlineBetween returns signable documents whose deadline
// falls in [fromISO, toISO). The reminder job uses this window.
func (s *Store) ListDocumentsWithDeadlineBetween(ctx context.Context, q Querier, fromISO, toISO string) ([]*model.Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE deadline_at IS NOT NULL AND deadline_at >= $1 AND deadline_at < $2
		   AND status IN ('READY', 'PARTIALLY_SIGNED')
		 ORDER BY deadline_at ASC`,
		fromISO, toISO)
	if err != nil {
		return nil, fmt.Errorf("list documents by deadline window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDocumentsWithDeadlineBefore returns signable documents whose deadline
// has passed. The deadline job expires these.
func (s *Store) ListDocumentsWithDeadlineBefore(ctx context.Context, q Querier, cutoffISO string) ([]*model.Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE deadline_at IS NOT NULL AND deadline_at < $1
		   AND status IN ('READY', 'PARTIALLY_SIGNED')
		 ORDER BY deadline_at ASC`,
		cutoffISO)
	if err != nil {
		return nil, fmt.Errorf("list documents past deadline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func requireOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, model.ErrNotFound)
	}
	return nil
}
