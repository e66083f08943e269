// Package audit maintains per-entity hash chains over actor-observable
// events. Every entry links to its predecessor through prevEventHash, so a
// mutated or deleted row breaks every later hash in that entity's chain.
//
// The hash input is built from a canonical JSON record (RFC 8785) of the
// entry's envelope fields merged with the caller payload, concatenated with
// the canonical createdAt string:
//
//	eventHash = SHA-256(prevEventHash ‖ JCS(record) ‖ createdAt)
//
// The stored row keeps only the caller payload; the verifier reconstructs
// the record from the envelope columns.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/quill/pkg/canonicalize"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

// DefaultGenesisPrefix seeds the first link of every chain.
const DefaultGenesisPrefix = "genesis_block_"

// GenesisHash derives the prevEventHash for the first entry of an entity's
// chain.
func GenesisHash(prefix, entityID string) string {
	return canonicalize.HashBytes([]byte(prefix + entityID))
}

// Event is one actor-observable occurrence to be chained.
type Event struct {
	TenantID   string
	ActorKind  model.ActorKind
	ActorID    *string
	EntityType model.EntityType
	EntityID   string
	Action     string
	IP         string
	UserAgent  string
	// Payload is stored verbatim on the row and merged into the hashed
	// record. On key collisions with envelope fields the payload wins.
	Payload map[string]any
}

// EventFor builds an Event attributed to actor. An empty actor ID leaves
// ActorID unset so system events carry no actorId field in the hashed
// record.
func EventFor(tenantID string, actor model.Actor, entityType model.EntityType,
	entityID, action string, payload map[string]any) Event {
	ev := Event{
		TenantID:   tenantID,
		ActorKind:  actor.Kind,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
		Payload:    payload,
	}
	if actor.ID != "" {
		ev.ActorID = &actor.ID
	}
	return ev
}

// chainRecord builds the record whose canonical form is hashed. Shared by
// the appender and the verifier; the two must agree byte for byte.
func chainRecord(actorKind model.ActorKind, actorID *string, entityType model.EntityType,
	entityID, action, ip, userAgent string, payload map[string]any) map[string]any {
	record := map[string]any{
		"actorKind":  string(actorKind),
		"entityType": string(entityType),
		"entityId":   entityID,
		"action":     action,
		"ip":         ip,
		"userAgent":  userAgent,
	}
	if actorID != nil {
		record["actorId"] = *actorID
	}
	for k, v := range payload {
		record[k] = v
	}
	return record
}

func computeEventHash(prevHash string, canonicalRecord []byte, createdAt string) string {
	return canonicalize.HashBytes([]byte(prevHash + string(canonicalRecord) + createdAt))
}

// Appender writes chain entries.
type Appender struct {
	store         *store.Store
	clock         clock.Clock
	genesisPrefix string
}

// NewAppender builds an Appender. An empty genesisPrefix selects
// DefaultGenesisPrefix.
func NewAppender(st *store.Store, clk clock.Clock, genesisPrefix string) *Appender {
	if genesisPrefix == "" {
		genesisPrefix = DefaultGenesisPrefix
	}
	if clk == nil {
		clk = clock.System
	}
	return &Appender{store: st, clock: clk, genesisPrefix: genesisPrefix}
}

// Append chains one event and inserts the row through q.
//
// Concurrency contract: q must be a transaction that already serializes
// mutations of the owning document (see store.LockDocument). Two appends
// that read the same chain tail would fork the chain, which the verifier
// then reports as broken.
func (a *Appender) Append(ctx context.Context, q store.Querier, ev Event) (*model.AuditEntry, error) {
	if ev.EntityID == "" || ev.Action == "" {
		return nil, fmt.Errorf("%w: audit event requires entityId and action", model.ErrValidation)
	}

	createdAt := a.clock.Stamp()

	prev, err := a.store.LastAuditEntry(ctx, q, ev.EntityID, true)
	if err != nil {
		return nil, err
	}
	prevHash := GenesisHash(a.genesisPrefix, ev.EntityID)
	if prev != nil {
		prevHash = prev.EventHash
	}

	record := chainRecord(ev.ActorKind, ev.ActorID, ev.EntityType,
		ev.EntityID, ev.Action, ev.IP, ev.UserAgent, ev.Payload)
	canonical, err := canonicalize.JCS(record)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit record: %w", err)
	}

	var payloadJSON json.RawMessage
	if len(ev.Payload) > 0 {
		payloadJSON, err = json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode audit payload: %w", err)
		}
	}

	entry := &model.AuditEntry{
		ID:            uuid.NewString(),
		TenantID:      ev.TenantID,
		ActorKind:     ev.ActorKind,
		ActorID:       ev.ActorID,
		EntityType:    ev.EntityType,
		EntityID:      ev.EntityID,
		Action:        ev.Action,
		IP:            ev.IP,
		UserAgent:     ev.UserAgent,
		PayloadJSON:   payloadJSON,
		CreatedAt:     createdAt,
		PrevEventHash: prevHash,
		EventHash:     computeEventHash(prevHash, canonical, createdAt),
	}
	if err := a.store.InsertAuditEntry(ctx, q, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
