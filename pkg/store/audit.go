package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

const auditColumns = `seq, id, tenant_id, actor_kind, actor_id, entity_type, entity_id, action, ip, user_agent, payload_json, created_at, prev_event_hash, event_hash`

func scanAuditEntry(r rowScanner) (*model.AuditEntry, error) {
	var (
		e       model.AuditEntry
		actorID sql.NullString
		payload sql.NullString
	)
	err := r.Scan(&e.Seq, &e.ID, &e.TenantID, &e.ActorKind, &actorID, &e.EntityType,
		&e.EntityID, &e.Action, &e.IP, &e.UserAgent, &payload, &e.CreatedAt,
		&e.PrevEventHash, &e.EventHash)
	if err != nil {
		return nil, err
	}
	e.ActorID = fromNullString(actorID)
	if payload.Valid && payload.String != "" {
		e.PayloadJSON = []byte(payload.String)
	}
	return &e, nil
}

// InsertAuditEntry appends one chain link. There is no update or delete
// counterpart: the log is append-only by construction.
func (s *Store) InsertAuditEntry(ctx context.Context, q Querier, e *model.AuditEntry) error {
	var payload any
	if len(e.PayloadJSON) > 0 {
		payload = string(e.PayloadJSON)
	}
	query := `
		INSERT INTO audit_log (id, tenant_id, actor_kind, actor_id, entity_type, entity_id, action, ip, user_agent, payload_json, created_at, prev_event_hash, event_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.TenantID, e.ActorKind, nullable(e.ActorID), e.EntityType, e.EntityID,
		e.Action, e.IP, e.UserAgent, payload, e.CreatedAt, e.PrevEventHash, e.EventHash)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LastAuditEntry returns the chain tail for an entity, or nil when the chain
// is empty. With lock, Postgres takes FOR UPDATE on the tail row so two
// concurrent appends cannot both read the same predecessor.
func (s *Store) LastAuditEntry(ctx context.Context, q Querier, entityID string, lock bool) (*model.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE entity_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`
	if lock {
		query += s.dialect.forUpdate()
	}
	row := q.QueryRowContext(ctx, query, entityID)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last audit entry: %w", err)
	}
	return e, nil
}

// ListAuditByEntity returns an entity's full chain, oldest first.
func (s *Store) ListAuditByEntity(ctx context.Context, q Querier, entityID string) ([]*model.AuditEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE entity_id = $1 ORDER BY created_at ASC, seq ASC`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAuditByEntities returns the merged chains for a set of entities,
// ordered by createdAt then insert order. Feeds the document audit view.
func (s *Store) ListAuditByEntities(ctx context.Context, q Querier, entityIDs []string) ([]*model.AuditEntry, error) {
	if len(entityIDs) == 0 {
		return []*model.AuditEntry{}, nil
	}

	placeholders := make([]string, len(entityIDs))
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE entity_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at ASC, seq ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
