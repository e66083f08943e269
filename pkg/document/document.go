// Package document implements the owner-facing document lifecycle: upload
// with content addressing, signer invitations, status transitions,
// finalization, and the provenance validator.
//
// Every state change runs inside one store transaction together with its
// audit append, so a committed row and its chain entry are inseparable.
// Notifications happen after commit and never roll a transition back.
package document

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/quill/pkg/audit"
	"github.com/Mindburn-Labs/quill/pkg/blob"
	"github.com/Mindburn-Labs/quill/pkg/canonicalize"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/notify"
	"github.com/Mindburn-Labs/quill/pkg/pdf"
	"github.com/Mindburn-Labs/quill/pkg/policy"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

// DefaultInviteTTL bounds share-token life when the document carries no
// deadline.
const DefaultInviteTTL = 30 * 24 * time.Hour

// tokenBytes is the entropy of a share token before URL-safe encoding.
const tokenBytes = 32

// Deps carries the capabilities the service operates through. Store, Blobs,
// Audit, Verifier and Plans are required; the rest default.
type Deps struct {
	Store     *store.Store
	Blobs     blob.Store
	Audit     *audit.Appender
	Verifier  *audit.Verifier
	Finalizer *pdf.Finalizer
	Notifier  notify.Notifier
	Plans     *policy.Engine
	Clock     clock.Clock
	Logger    *slog.Logger
	InviteTTL time.Duration
}

// Service is the document lifecycle service.
type Service struct {
	store     *store.Store
	blobs     blob.Store
	audit     *audit.Appender
	verifier  *audit.Verifier
	finalizer *pdf.Finalizer
	notifier  notify.Notifier
	plans     *policy.Engine
	clock     clock.Clock
	logger    *slog.Logger
	inviteTTL time.Duration
}

// NewService wires a Service from its dependencies.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.System
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	logger := d.Logger.With(slog.String("component", "document"))
	if d.Finalizer == nil {
		d.Finalizer = pdf.NewFinalizer(d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if d.InviteTTL <= 0 {
		d.InviteTTL = DefaultInviteTTL
	}
	return &Service{
		store:     d.Store,
		blobs:     d.Blobs,
		audit:     d.Audit,
		verifier:  d.Verifier,
		finalizer: d.Finalizer,
		notifier:  d.Notifier,
		plans:     d.Plans,
		clock:     d.Clock,
		logger:    logger,
		inviteTTL: d.InviteTTL,
	}
}

// CreateInput describes an upload.
type CreateInput struct {
	TenantID   string
	OwnerID    string
	Title      string
	DeadlineAt *string
	FileName   string
	MimeType   string
	Data       []byte
}

// Create ingests a PDF: validates it, checks the tenant's plan, stores the
// bytes content addressed, and writes the READY document row together with
// its STORAGE_UPLOADED chain entry. If the transaction fails after the blob
// landed, the blob is removed again.
func (s *Service) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Document, error) {
	if in.TenantID == "" || in.OwnerID == "" {
		return nil, fmt.Errorf("%w: tenantId and ownerId are required", model.ErrValidation)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", model.ErrValidation)
	}
	pages, err := pdf.Info(in.Data)
	if err != nil {
		return nil, err
	}
	if in.DeadlineAt != nil {
		if _, err := clock.Parse(*in.DeadlineAt); err != nil {
			return nil, fmt.Errorf("%w: deadlineAt: %v", model.ErrValidation, err)
		}
	}

	db := s.store.DB()
	tenant, err := s.store.GetTenant(ctx, db, in.TenantID)
	if err != nil {
		return nil, err
	}
	since := clock.Format(monthStart(s.clock()))
	used, err := s.store.CountDocumentsCreatedSince(ctx, db, in.TenantID, since)
	if err != nil {
		return nil, err
	}
	if err := s.plans.Check(tenant.Plan, policy.Usage{
		DocumentsThisMonth: int64(used),
		FileSizeBytes:      int64(len(in.Data)),
	}); err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	sha := canonicalize.HashBytes(in.Data)
	key := storageKey(in.TenantID, docID, in.FileName)

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.FileName
	}
	mime := in.MimeType
	if mime == "" {
		mime = "application/pdf"
	}

	if err := s.blobs.Put(ctx, key, in.Data); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &model.Document{
		ID:         docID,
		TenantID:   in.TenantID,
		OwnerID:    in.OwnerID,
		Title:      title,
		MimeType:   mime,
		Size:       int64(len(in.Data)),
		StorageKey: key,
		Sha256:     sha,
		Status:     model.DocumentReady,
		PageCount:  pages,
		DeadlineAt: in.DeadlineAt,
		CreatedAt:  s.clock.Stamp(),
	}
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.InsertDocument(ctx, tx, doc); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, tx, audit.EventFor(in.TenantID, actor,
			model.EntityDocument, docID, model.ActionStorageUploaded, map[string]any{
				"fileName": in.FileName,
				"sha256":   sha,
			}))
		return err
	})
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.WarnContext(ctx, "orphan blob cleanup failed",
				slog.String("storage_key", key), slog.String("error", derr.Error()))
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "document created",
		slog.String("document_id", docID),
		slog.String("tenant_id", in.TenantID),
		slog.Int("pages", pages))
	return doc, nil
}

// SignerInput describes one signer to invite.
type SignerInput struct {
	Name          string
	Email         string
	Phone         *string
	Cpf           *string
	Qualification *string
	AuthChannels  []model.AuthChannel
	Order         *int
}

// InviteInput is an invitation request for a document.
type InviteInput struct {
	TenantID   string
	DocumentID string
	Signers    []SignerInput
	Message    string
}

// Invitation pairs a created signer with its cleartext share token. The
// token lives only in memory and in the notification payload; the database
// keeps its SHA-256.
type Invitation struct {
	Signer *model.Signer
	Token  string
}

// Invite creates the signer rows and share tokens in one transaction under
// the document lock, then hands each cleartext token to the notifier exactly
// once.
func (s *Service) Invite(ctx context.Context, actor model.Actor, in InviteInput) ([]Invitation, error) {
	if len(in.Signers) == 0 {
		return nil, fmt.Errorf("%w: at least one signer is required", model.ErrValidation)
	}
	normalized := make([]SignerInput, len(in.Signers))
	for i, sg := range in.Signers {
		n, err := normalizeSigner(sg)
		if err != nil {
			return nil, err
		}
		normalized[i] = n
	}
	wantsWhatsapp := false
	for _, sg := range normalized {
		for _, ch := range sg.AuthChannels {
			if ch == model.ChannelWhatsapp {
				wantsWhatsapp = true
			}
		}
	}

	var (
		doc *model.Document
		out []Invitation
	)
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.LockDocument(ctx, tx, in.DocumentID); err != nil {
			return err
		}
		d, err := s.store.GetDocument(ctx, tx, in.DocumentID)
		if err != nil {
			return err
		}
		if d.TenantID != in.TenantID {
			return model.ErrNotFound
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: document is %s", model.ErrAlreadyTerminal, d.Status)
		}

		existing, err := s.store.ListSignersByDocument(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		tenant, err := s.store.GetTenant(ctx, tx, d.TenantID)
		if err != nil {
			return err
		}
		if err := s.plans.Check(tenant.Plan, policy.Usage{
			SignerCount:   int64(len(existing) + len(normalized)),
			WantsWhatsapp: wantsWhatsapp,
		}); err != nil {
			return err
		}

		expiresAt := clock.Format(s.clock().Add(s.inviteTTL))
		if d.DeadlineAt != nil {
			expiresAt = *d.DeadlineAt
		}

		out = make([]Invitation, 0, len(normalized))
		for i, sg := range normalized {
			order := len(existing) + i + 1
			if sg.Order != nil {
				order = *sg.Order
			}
			signer := &model.Signer{
				ID:            uuid.NewString(),
				DocumentID:    d.ID,
				Name:          sg.Name,
				Email:         sg.Email,
				Phone:         sg.Phone,
				Cpf:           sg.Cpf,
				Qualification: sg.Qualification,
				AuthChannels:  sg.AuthChannels,
				Order:         order,
				Status:        model.SignerPending,
			}
			if err := s.store.InsertSigner(ctx, tx, signer); err != nil {
				return err
			}

			token, err := newShareToken()
			if err != nil {
				return err
			}
			st := &model.ShareToken{
				TokenHash:  canonicalize.HashBytes([]byte(token)),
				DocumentID: d.ID,
				SignerID:   signer.ID,
				ExpiresAt:  expiresAt,
			}
			if err := s.store.InsertShareToken(ctx, tx, st); err != nil {
				return err
			}

			if _, err := s.audit.Append(ctx, tx, audit.EventFor(d.TenantID, actor,
				model.EntitySigner, signer.ID, model.ActionInvited, map[string]any{
					"documentId": d.ID,
					"recipient":  signer.Email,
				})); err != nil {
				return err
			}
			out = append(out, Invitation{Signer: signer, Token: token})
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, inv := range out {
		s.sendInvite(ctx, doc, inv, in.Message)
	}
	return out, nil
}

// Cancel moves a non-terminal document to CANCELLED.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, tenantID, documentID string) (*model.Document, error) {
	return s.transition(ctx, actor, tenantID, documentID, model.DocumentCancelled)
}

// Expire moves a non-terminal document to EXPIRED. The deadline job calls
// this for documents whose deadline has passed.
func (s *Service) Expire(ctx context.Context, actor model.Actor, tenantID, documentID string) (*model.Document, error) {
	return s.transition(ctx, actor, tenantID, documentID, model.DocumentExpired)
}

// transition applies a terminal status under the document lock and chains
// STATUS_CHANGED. An empty tenantID skips scoping; only the deadline job
// uses that.
func (s *Service) transition(ctx context.Context, actor model.Actor, tenantID, documentID string, next model.DocumentStatus) (*model.Document, error) {
	var doc *model.Document
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.LockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		d, err := s.store.GetDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if tenantID != "" && d.TenantID != tenantID {
			return model.ErrNotFound
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: document is %s", model.ErrAlreadyTerminal, d.Status)
		}
		if err := s.store.UpdateDocumentStatus(ctx, tx, d.ID, next); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, audit.EventFor(d.TenantID, actor,
			model.EntityDocument, d.ID, model.ActionStatusChanged, map[string]any{
				"newStatus": string(next),
			})); err != nil {
			return err
		}
		d.Status = next
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "document status changed",
		slog.String("document_id", documentID), slog.String("status", string(next)))
	return doc, nil
}

// Now reports the service clock's current canonical timestamp.
func (s *Service) Now() string {
	return s.clock.Stamp()
}

// Get returns the document with its signers, scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, documentID string) (*model.Document, []*model.Signer, error) {
	db := s.store.DB()
	d, err := s.store.GetDocument(ctx, db, documentID)
	if err != nil {
		return nil, nil, err
	}
	if d.TenantID != tenantID {
		return nil, nil, model.ErrNotFound
	}
	signers, err := s.store.ListSignersByDocument(ctx, db, documentID)
	if err != nil {
		return nil, nil, err
	}
	return d, signers, nil
}

// List returns one page of the tenant's documents, newest first, plus the
// tenant's total count.
func (s *Service) List(ctx context.Context, tenantID string, page, pageSize int) ([]*model.Document, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	db := s.store.DB()
	docs, err := s.store.ListDocuments(ctx, db, tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountDocumentsByTenant(ctx, db, tenantID)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// AuditTrail returns the document's chain entries merged with every
// signer's, ordered by createdAt then insertion.
func (s *Service) AuditTrail(ctx context.Context, tenantID, documentID string) ([]*model.AuditEntry, error) {
	db := s.store.DB()
	d, err := s.store.GetDocument(ctx, db, documentID)
	if err != nil {
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	signers, err := s.store.ListSignersByDocument(ctx, db, documentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(signers)+1)
	ids = append(ids, d.ID)
	for _, sg := range signers {
		ids = append(ids, sg.ID)
	}
	return s.store.ListAuditByEntities(ctx, db, ids)
}

// VerifyChain re-hashes the document's chain and each signer's and reports
// the first break.
func (s *Service) VerifyChain(ctx context.Context, tenantID, documentID string) (*audit.Report, error) {
	db := s.store.DB()
	d, err := s.store.GetDocument(ctx, db, documentID)
	if err != nil {
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	return s.verifier.VerifyDocument(ctx, db, documentID)
}

// Download returns the document row and its current PDF bytes after
// checking them against the stored content hash.
func (s *Service) Download(ctx context.Context, tenantID, documentID string) (*model.Document, []byte, error) {
	db := s.store.DB()
	d, err := s.store.GetDocument(ctx, db, documentID)
	if err != nil {
		return nil, nil, err
	}
	if d.TenantID != tenantID {
		return nil, nil, model.ErrNotFound
	}
	data, err := s.FileBytes(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	return d, data, nil
}

// FileBytes loads the document's blob and verifies it still matches the
// row's sha256. A mismatch means the blob store was modified behind the
// database's back.
func (s *Service) FileBytes(ctx context.Context, d *model.Document) ([]byte, error) {
	data, err := s.blobs.Get(ctx, d.StorageKey)
	if err != nil {
		return nil, err
	}
	if canonicalize.HashBytes(data) != d.Sha256 {
		s.logger.ErrorContext(ctx, "stored blob does not match document hash",
			slog.String("document_id", d.ID),
			slog.String("storage_key", d.StorageKey))
		return nil, fmt.Errorf("%w: stored bytes for document %s do not match sha256", model.ErrIntegrity, d.ID)
	}
	return data, nil
}

// Certificate returns the completion record; ErrNotFound until the document
// finalizes.
func (s *Service) Certificate(ctx context.Context, tenantID, documentID string) (*model.Certificate, error) {
	db := s.store.DB()
	d, err := s.store.GetDocument(ctx, db, documentID)
	if err != nil {
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	return s.store.GetCertificate(ctx, db, documentID)
}

// Finalize is the administrative re-finalize. An already SIGNED document is
// a no-op success; otherwise every signer must have signed.
func (s *Service) Finalize(ctx context.Context, actor model.Actor, tenantID, documentID string) (*model.Document, error) {
	var (
		doc     *model.Document
		signers []*model.Signer
	)
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.LockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		d, err := s.store.GetDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if d.TenantID != tenantID {
			return model.ErrNotFound
		}
		if d.Status == model.DocumentSigned {
			doc = d
			return nil
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: document is %s", model.ErrAlreadyTerminal, d.Status)
		}
		signed, total, err := s.store.CountSignedSigners(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if total == 0 || signed != total {
			return fmt.Errorf("%w: %d of %d signers have signed", model.ErrValidation, signed, total)
		}
		sgs, err := s.FinalizeLocked(ctx, tx, actor, d)
		if err != nil {
			return err
		}
		doc, signers = d, sgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if signers != nil {
		s.NotifyCompleted(ctx, doc, signers)
	}
	return doc, nil
}

// FinalizeLocked stamps every SIGNED signer onto the PDF, swaps the
// document's storage key and content hash, chains the finalize events, and
// issues the certificate. The caller must hold the document row lock in tx
// and must have established that all signers are SIGNED. d is updated in
// place; the returned signers feed the completion notices the caller sends
// after commit.
func (s *Service) FinalizeLocked(ctx context.Context, tx *sql.Tx, actor model.Actor, d *model.Document) ([]*model.Signer, error) {
	signers, err := s.store.ListSignersByDocument(ctx, tx, d.ID)
	if err != nil {
		return nil, err
	}

	original, err := s.FileBytes(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("load original for finalize: %w", err)
	}

	marks := make([]pdf.Mark, 0, len(signers))
	for _, sg := range signers {
		if sg.Status != model.SignerSigned || sg.SignatureArtefactPath == nil {
			continue
		}
		img, err := s.blobs.Get(ctx, *sg.SignatureArtefactPath)
		if err != nil {
			s.logger.WarnContext(ctx, "signature artefact unavailable, stamp skipped",
				slog.String("signer_id", sg.ID), slog.String("error", err.Error()))
			continue
		}
		marks = append(marks, pdf.Mark{
			SignerID: sg.ID,
			Image:    img,
			Page:     sg.SignaturePositionPage,
			X:        sg.SignaturePositionX,
			Y:        sg.SignaturePositionY,
		})
	}

	stamped, err := s.finalizer.Stamp(original, marks)
	if err != nil {
		return nil, fmt.Errorf("stamp finalized document: %w", err)
	}

	signedKey := signedStorageKey(d.StorageKey)
	if err := s.blobs.Put(ctx, signedKey, stamped); err != nil {
		return nil, fmt.Errorf("store finalized document: %w", err)
	}
	signedSha := canonicalize.HashBytes(stamped)

	if err := s.store.FinalizeDocument(ctx, tx, d.ID, signedKey, signedSha); err != nil {
		return nil, err
	}

	docEvent := func(action string, payload map[string]any) error {
		_, err := s.audit.Append(ctx, tx, audit.EventFor(d.TenantID, actor,
			model.EntityDocument, d.ID, action, payload))
		return err
	}
	if err := docEvent(model.ActionStatusChanged, map[string]any{
		"newStatus": string(model.DocumentSigned),
	}); err != nil {
		return nil, err
	}
	if err := docEvent(model.ActionPadesSigned, map[string]any{
		"sha256": signedSha,
	}); err != nil {
		return nil, err
	}
	if err := docEvent(model.ActionCertificateIssued, map[string]any{
		"storageKey": signedKey,
	}); err != nil {
		return nil, err
	}

	if err := s.store.InsertCertificate(ctx, tx, &model.Certificate{
		DocumentID: d.ID,
		StorageKey: signedKey,
		Sha256:     signedSha,
		IssuedAt:   s.clock.Stamp(),
	}); err != nil {
		return nil, err
	}

	d.Status = model.DocumentSigned
	d.StorageKey = signedKey
	d.Sha256 = signedSha

	s.logger.InfoContext(ctx, "document finalized",
		slog.String("document_id", d.ID),
		slog.Int("stamps", len(marks)),
		slog.String("sha256", signedSha))
	return signers, nil
}

// NotifyCompleted emits completion notices to every signer. Best effort:
// failures chain NOTIFICATION_FAILED and never affect the committed state.
func (s *Service) NotifyCompleted(ctx context.Context, d *model.Document, signers []*model.Signer) {
	ctx = context.WithoutCancel(ctx)
	for _, sg := range signers {
		msg := notify.Message{
			Kind:       notify.KindCompleted,
			Channel:    model.ChannelEmail,
			Recipient:  sg.Email,
			TenantID:   d.TenantID,
			DocumentID: d.ID,
			SignerID:   sg.ID,
			Subject:    fmt.Sprintf("Document signed: %s", d.Title),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "completion notification failed",
				slog.String("signer_id", sg.ID), slog.String("error", err.Error()))
			s.auditNotificationFailure(ctx, d.TenantID, d.ID, model.EntitySigner, sg.ID, notify.KindCompleted, err)
		}
	}
}

// sendInvite hands one cleartext token to the notifier. The sign URL is
// relative; the delivery layer knows the public host.
func (s *Service) sendInvite(ctx context.Context, d *model.Document, inv Invitation, message string) {
	ctx = context.WithoutCancel(ctx)
	msg := notify.Message{
		Kind:       notify.KindInvite,
		Channel:    model.ChannelEmail,
		Recipient:  inv.Signer.Email,
		TenantID:   d.TenantID,
		DocumentID: d.ID,
		SignerID:   inv.Signer.ID,
		Subject:    fmt.Sprintf("Signature requested: %s", d.Title),
		Body:       message,
		Data: map[string]string{
			"token":   inv.Token,
			"signUrl": "/sign/" + inv.Token,
		},
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "invite notification failed",
			slog.String("signer_id", inv.Signer.ID), slog.String("error", err.Error()))
		s.auditNotificationFailure(ctx, d.TenantID, d.ID, model.EntitySigner, inv.Signer.ID, notify.KindInvite, err)
	}
}

// auditNotificationFailure records a post-commit delivery failure in its own
// transaction. A failure here is only logged; there is nothing left to roll
// back.
func (s *Service) auditNotificationFailure(ctx context.Context, tenantID, documentID string,
	entityType model.EntityType, entityID string, kind notify.Kind, cause error) {
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.LockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, tx, audit.EventFor(tenantID, model.SystemActor(),
			entityType, entityID, model.ActionNotificationFailed, map[string]any{
				"kind":  string(kind),
				"error": cause.Error(),
			}))
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "recording notification failure",
			slog.String("entity_id", entityID), slog.String("error", err.Error()))
	}
}

// normalizeSigner trims and NFC-normalizes names, lowercases the email, and
// validates channels against the contact details they need.
func normalizeSigner(in SignerInput) (SignerInput, error) {
	in.Name = strings.TrimSpace(norm.NFC.String(in.Name))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return in, fmt.Errorf("%w: signer name is required", model.ErrValidation)
	}
	if !strings.Contains(in.Email, "@") {
		return in, fmt.Errorf("%w: signer email %q is not an address", model.ErrValidation, in.Email)
	}
	if len(in.AuthChannels) == 0 {
		return in, fmt.Errorf("%w: signer %s needs at least one auth channel", model.ErrValidation, in.Email)
	}
	seen := make(map[model.AuthChannel]bool, len(in.AuthChannels))
	channels := make([]model.AuthChannel, 0, len(in.AuthChannels))
	for _, ch := range in.AuthChannels {
		if !model.ValidChannel(ch) {
			return in, fmt.Errorf("%w: unknown auth channel %q", model.ErrValidation, ch)
		}
		if ch == model.ChannelWhatsapp && (in.Phone == nil || strings.TrimSpace(*in.Phone) == "") {
			return in, fmt.Errorf("%w: WHATSAPP channel requires a phone number", model.ErrValidation)
		}
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	in.AuthChannels = channels
	return in, nil
}

// storageKey places the original under the tenant partition, keeping the
// upload's extension.
func storageKey(tenantID, docID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" || ext == "." {
		ext = ".pdf"
	}
	return tenantID + "/" + docID + ext
}

// signedStorageKey inserts "-signed" before the extension of the original
// key.
func signedStorageKey(key string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + "-signed" + ext
}

// SignatureArtefactKey is where a signer's drawn signature PNG lives.
func SignatureArtefactKey(tenantID, signerID string) string {
	return tenantID + "/signatures/" + signerID + ".png"
}

// monthStart is the UTC boundary plan volume limits reset on.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func newShareToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("share token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
