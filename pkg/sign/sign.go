// Package sign implements the signer-facing workflow: share-token
// resolution, the viewed transition, identity capture, the one-time-code
// challenge, stamp placement, signature commit, and decline.
//
// Every operation authenticates with the raw token from the invitation
// link. Only the token's SHA-256 is ever stored, so possession of the link
// is the sole credential. State changes run under the document row lock;
// the commit path is where two signers racing each other must resolve to
// exactly one finalization.
package sign

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/audit"
	"github.com/Mindburn-Labs/quill/pkg/blob"
	"github.com/Mindburn-Labs/quill/pkg/canonicalize"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/notify"
	"github.com/Mindburn-Labs/quill/pkg/otp"
	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

// DefaultShortCodeLen is how many hash characters the signer sees as their
// confirmation code.
const DefaultShortCodeLen = 6

// Caller carries transport attribution into audit entries. The signer
// identity itself comes from the resolved token, never from the caller.
type Caller struct {
	IP        string
	UserAgent string
}

func (c Caller) actor(signerID string) model.Actor {
	return model.Actor{Kind: model.ActorSigner, ID: signerID, IP: c.IP, UserAgent: c.UserAgent}
}

// Deps carries the capabilities the service operates through. Store, Blobs,
// Audit, Otps and Documents are required. A nil OtpLimit disables send
// throttling.
type Deps struct {
	Store        *store.Store
	Blobs        blob.Store
	Audit        *audit.Appender
	Otps         *otp.Service
	Documents    *document.Service
	Notifier     notify.Notifier
	OtpLimit     ratelimit.Bucket
	Clock        clock.Clock
	Logger       *slog.Logger
	ShortCodeLen int
}

// Service is the signer workflow service.
type Service struct {
	store        *store.Store
	blobs        blob.Store
	audit        *audit.Appender
	otps         *otp.Service
	docs         *document.Service
	notifier     notify.Notifier
	otpLimit     ratelimit.Bucket
	clock        clock.Clock
	logger       *slog.Logger
	shortCodeLen int
}

// NewService wires a Service from its dependencies.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.System
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	logger := d.Logger.With(slog.String("component", "sign"))
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if d.ShortCodeLen <= 0 {
		d.ShortCodeLen = DefaultShortCodeLen
	}
	return &Service{
		store:        d.Store,
		blobs:        d.Blobs,
		audit:        d.Audit,
		otps:         d.Otps,
		docs:         d.Documents,
		notifier:     d.Notifier,
		otpLimit:     d.OtpLimit,
		clock:        d.Clock,
		logger:       logger,
		shortCodeLen: d.ShortCodeLen,
	}
}

// session is one authenticated request's view of the workflow.
type session struct {
	token  *model.ShareToken
	signer *model.Signer
	doc    *model.Document
}

// resolve authenticates a raw token against q. Token misses and expiry are
// ErrInvalidToken; a document already in a terminal state is
// ErrAlreadyTerminal so a signer hitting a cancelled document learns why.
func (s *Service) resolve(ctx context.Context, q store.Querier, rawToken string) (*session, error) {
	if rawToken == "" {
		return nil, model.ErrInvalidToken
	}
	st, err := s.store.GetShareTokenByHash(ctx, q, canonicalize.HashBytes([]byte(rawToken)))
	if err != nil {
		return nil, err
	}
	return s.sessionFrom(ctx, q, st)
}

// resolveLocked is resolve with the document row lock taken before the
// signer and document reads, so the session's row images hold for the rest
// of the transaction.
func (s *Service) resolveLocked(ctx context.Context, tx *sql.Tx, rawToken string) (*session, error) {
	if rawToken == "" {
		return nil, model.ErrInvalidToken
	}
	st, err := s.store.GetShareTokenByHash(ctx, tx, canonicalize.HashBytes([]byte(rawToken)))
	if err != nil {
		return nil, err
	}
	if err := s.store.LockDocument(ctx, tx, st.DocumentID); err != nil {
		return nil, err
	}
	return s.sessionFrom(ctx, tx, st)
}

func (s *Service) sessionFrom(ctx context.Context, q store.Querier, st *model.ShareToken) (*session, error) {
	if s.clock.Stamp() > st.ExpiresAt {
		return nil, fmt.Errorf("%w: share token expired", model.ErrInvalidToken)
	}
	signer, err := s.store.GetSigner(ctx, q, st.SignerID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, q, st.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.DocumentDraft {
		return nil, fmt.Errorf("%w: document not ready", model.ErrInvalidToken)
	}
	if doc.Status.Terminal() {
		return nil, fmt.Errorf("%w: document is %s", model.ErrAlreadyTerminal, doc.Status)
	}
	return &session{token: st, signer: signer, doc: doc}, nil
}

// SummaryDocument is the slice of document metadata a signer may see.
type SummaryDocument struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Status     model.DocumentStatus `json:"status"`
	PageCount  int                  `json:"pageCount"`
	DeadlineAt *string              `json:"deadlineAt,omitempty"`
	CreatedAt  string               `json:"createdAt"`
}

// Summary is the signer's landing view.
type Summary struct {
	Document    SummaryDocument `json:"document"`
	Signer      *model.Signer   `json:"signer"`
	DownloadURL string          `json:"downloadUrl"`
}

// Summary resolves the token and returns the signer's view. The first visit
// moves a PENDING signer to VIEWED and chains the VIEWED event; later visits
// change nothing.
func (s *Service) Summary(ctx context.Context, caller Caller, rawToken string) (*Summary, error) {
	var sess *session
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		got, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if got.signer.Status == model.SignerPending {
			if err := s.store.UpdateSignerStatus(ctx, tx, got.signer.ID, model.SignerViewed); err != nil {
				return err
			}
			if _, err := s.audit.Append(ctx, tx, audit.EventFor(got.doc.TenantID, caller.actor(got.signer.ID),
				model.EntitySigner, got.signer.ID, model.ActionViewed, nil)); err != nil {
				return err
			}
			got.signer.Status = model.SignerViewed
		}
		sess = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Summary{
		Document: SummaryDocument{
			ID:         sess.doc.ID,
			Title:      sess.doc.Title,
			Status:     sess.doc.Status,
			PageCount:  sess.doc.PageCount,
			DeadlineAt: sess.doc.DeadlineAt,
			CreatedAt:  sess.doc.CreatedAt,
		},
		Signer:      sess.signer,
		DownloadURL: "/sign/" + rawToken + "/file",
	}, nil
}

// Identify records the signer's CPF and phone. Nil fields keep their stored
// values.
func (s *Service) Identify(ctx context.Context, caller Caller, rawToken string, cpf, phone *string) (*model.Signer, error) {
	var signer *model.Signer
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if sess.signer.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, sess.signer.Status)
		}
		if err := s.store.UpdateSignerIdentity(ctx, tx, sess.signer.ID, cpf, phone); err != nil {
			return err
		}
		if cpf != nil {
			sess.signer.Cpf = cpf
		}
		if phone != nil {
			sess.signer.Phone = phone
		}
		signer = sess.signer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// OtpDispatch reports one delivery of a one-time code.
type OtpDispatch struct {
	Channel         model.AuthChannel `json:"channel"`
	MaskedRecipient string            `json:"maskedRecipient"`
}

type delivery struct {
	channel   model.AuthChannel
	recipient string
}

// OtpStart draws one code and issues it on every auth channel the signer
// accepts: one OtpCode row per channel, same cleartext. Sends are throttled
// per signer email; the code itself reaches the signer only through the
// notifier.
func (s *Service) OtpStart(ctx context.Context, caller Caller, rawToken string) ([]OtpDispatch, error) {
	// Pre-flight without the lock so throttled callers never open a write
	// transaction.
	pre, err := s.resolve(ctx, s.store.DB(), rawToken)
	if err != nil {
		return nil, err
	}
	if pre.signer.Status.Terminal() {
		return nil, fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, pre.signer.Status)
	}
	if s.otpLimit != nil {
		ok, err := s.otpLimit.Allow(ctx, pre.signer.Email)
		if err != nil {
			// A broken limiter backend must not block signing.
			s.logger.WarnContext(ctx, "otp throttle unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return nil, fmt.Errorf("%w: too many code requests", model.ErrLimitExceeded)
		}
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return nil, err
	}

	var (
		sess       *session
		deliveries []delivery
	)
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		got, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if got.signer.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, got.signer.Status)
		}
		deliveries = deliveries[:0]
		for _, ch := range got.signer.AuthChannels {
			recipient := got.signer.Email
			if ch == model.ChannelWhatsapp {
				if got.signer.Phone == nil || *got.signer.Phone == "" {
					continue
				}
				recipient = *got.signer.Phone
			}
			if _, err := s.otps.Issue(ctx, tx, recipient, ch, model.OtpContextSigning, code); err != nil {
				return err
			}
			if _, err := s.audit.Append(ctx, tx, audit.EventFor(got.doc.TenantID, caller.actor(got.signer.ID),
				model.EntitySigner, got.signer.ID, model.ActionOtpSent, map[string]any{
					"channel":         string(ch),
					"maskedRecipient": notify.MaskRecipient(recipient),
				})); err != nil {
				return err
			}
			deliveries = append(deliveries, delivery{channel: ch, recipient: recipient})
		}
		if len(deliveries) == 0 {
			return fmt.Errorf("%w: signer has no reachable auth channel", model.ErrValidation)
		}
		sess = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]OtpDispatch, 0, len(deliveries))
	for _, d := range deliveries {
		s.sendOtp(ctx, sess, d, code)
		out = append(out, OtpDispatch{Channel: d.channel, MaskedRecipient: notify.MaskRecipient(d.recipient)})
	}
	return out, nil
}

// OtpVerify checks a submitted code against the signer's contacts. Both
// failure modes chain OTP_FAILED; success consumes the row, stamps
// otpVerifiedAt, and chains OTP_VERIFIED.
func (s *Service) OtpVerify(ctx context.Context, caller Caller, rawToken, code string) (*model.Signer, error) {
	var signer *model.Signer
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if sess.signer.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, sess.signer.Status)
		}
		if _, err := s.otps.Verify(ctx, tx, sess.signer.Contacts(), model.OtpContextSigning, code); err != nil {
			return err
		}
		at := s.clock.Stamp()
		if err := s.store.UpdateSignerOtpVerified(ctx, tx, sess.signer.ID, at); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, audit.EventFor(sess.doc.TenantID, caller.actor(sess.signer.ID),
			model.EntitySigner, sess.signer.ID, model.ActionOtpVerified, nil)); err != nil {
			return err
		}
		sess.signer.OtpVerifiedAt = &at
		signer = sess.signer
		return nil
	})
	if err == nil {
		return signer, nil
	}

	// The failed attempt still becomes part of the signer's history. The
	// verification transaction rolled back, so this append runs on its own.
	if reason, failed := otpFailureReason(err); failed {
		s.auditOtpFailure(ctx, caller, rawToken, reason)
	}
	return nil, err
}

func otpFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, model.ErrOtpExpired):
		return "expired", true
	case errors.Is(err, model.ErrOtpWrong):
		return "wrong_code", true
	}
	return "", false
}

func (s *Service) auditOtpFailure(ctx context.Context, caller Caller, rawToken, reason string) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		_, err = s.audit.Append(ctx, tx, audit.EventFor(sess.doc.TenantID, caller.actor(sess.signer.ID),
			model.EntitySigner, sess.signer.ID, model.ActionOtpFailed, map[string]any{
				"reason": reason,
			}))
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "recording otp failure", slog.String("error", err.Error()))
	}
}

// Position stores where the signer's stamp goes. The page is 1-indexed and
// must exist in the document; coordinates are PDF points from the
// bottom-left corner.
func (s *Service) Position(ctx context.Context, caller Caller, rawToken string, page int, x, y float64) (*model.Signer, error) {
	var signer *model.Signer
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if sess.signer.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, sess.signer.Status)
		}
		if page < 1 || page > sess.doc.PageCount {
			return fmt.Errorf("%w: page %d out of range 1..%d", model.ErrValidation, page, sess.doc.PageCount)
		}
		if x < 0 || y < 0 {
			return fmt.Errorf("%w: coordinates must not be negative", model.ErrValidation)
		}
		if err := s.store.UpdateSignerPosition(ctx, tx, sess.signer.ID, page, x, y); err != nil {
			return err
		}
		sess.signer.SignaturePositionPage = &page
		sess.signer.SignaturePositionX = &x
		sess.signer.SignaturePositionY = &y
		signer = sess.signer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// CommitResult is what the signer gets back after signing.
type CommitResult struct {
	ShortCode     string `json:"shortCode"`
	SignatureHash string `json:"signatureHash"`
	IsComplete    bool   `json:"isComplete"`
}

// Commit applies the signature. Within one transaction under the document
// lock: the signature hash is derived, the PNG artefact stored, the signer
// marked SIGNED and chained, and the document either finalized (when this
// was the last signature) or moved to PARTIALLY_SIGNED. Exactly one of two
// racing commits observes the complete set and finalizes.
func (s *Service) Commit(ctx context.Context, caller Caller, rawToken, clientFingerprint string, signaturePNG []byte) (*CommitResult, error) {
	if strings.TrimSpace(clientFingerprint) == "" {
		return nil, fmt.Errorf("%w: clientFingerprint is required", model.ErrValidation)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(signaturePNG)); err != nil {
		return nil, fmt.Errorf("%w: signature image is not a PNG: %v", model.ErrValidation, err)
	}

	var (
		res           *CommitResult
		artefactKey   string
		completedDoc  *model.Document
		completedSgrs []*model.Signer
	)
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		sg, doc := sess.signer, sess.doc
		if sg.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, sg.Status)
		}
		if sg.OtpVerifiedAt == nil {
			return fmt.Errorf("%w: one-time code not verified", model.ErrValidation)
		}

		ts := s.clock.Stamp()
		sigHash := canonicalize.HashBytes([]byte(doc.Sha256 + sg.ID + ts + clientFingerprint))
		shortCode := strings.ToUpper(sigHash[:s.shortCodeLen])

		artefactKey = document.SignatureArtefactKey(doc.TenantID, sg.ID)
		if err := s.blobs.Put(ctx, artefactKey, signaturePNG); err != nil {
			return fmt.Errorf("store signature artefact: %w", err)
		}
		if err := s.store.MarkSignerSigned(ctx, tx, sg.ID, ts, sigHash, artefactKey); err != nil {
			return err
		}
		if err := s.store.ConsumeShareToken(ctx, tx, sess.token.TokenHash, ts); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, audit.EventFor(doc.TenantID, caller.actor(sg.ID),
			model.EntitySigner, sg.ID, model.ActionSigned, map[string]any{
				"signatureHash": sigHash,
				"shortCode":     shortCode,
				"artefactPath":  artefactKey,
			})); err != nil {
			return err
		}

		signed, total, err := s.store.CountSignedSigners(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		complete := signed == total

		if complete {
			sgrs, err := s.docs.FinalizeLocked(ctx, tx, caller.actor(sg.ID), doc)
			if err != nil {
				return err
			}
			completedDoc, completedSgrs = doc, sgrs
		} else if doc.Status != model.DocumentPartiallySigned {
			if err := s.store.UpdateDocumentStatus(ctx, tx, doc.ID, model.DocumentPartiallySigned); err != nil {
				return err
			}
			if _, err := s.audit.Append(ctx, tx, audit.EventFor(doc.TenantID, caller.actor(sg.ID),
				model.EntityDocument, doc.ID, model.ActionStatusChanged, map[string]any{
					"newStatus": string(model.DocumentPartiallySigned),
				})); err != nil {
				return err
			}
		}

		res = &CommitResult{ShortCode: shortCode, SignatureHash: sigHash, IsComplete: complete}
		return nil
	})
	if err != nil {
		if artefactKey != "" {
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), artefactKey); derr != nil {
				s.logger.WarnContext(ctx, "orphan artefact cleanup failed",
					slog.String("storage_key", artefactKey), slog.String("error", derr.Error()))
			}
		}
		return nil, err
	}

	if completedDoc != nil {
		s.docs.NotifyCompleted(ctx, completedDoc, completedSgrs)
	}
	return res, nil
}

// Decline moves the signer to DECLINED and chains the event. The document
// itself stays open; the owner decides whether to cancel it.
func (s *Service) Decline(ctx context.Context, caller Caller, rawToken string) (*model.Signer, error) {
	var signer *model.Signer
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.resolveLocked(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		if sess.signer.Status.Terminal() {
			return fmt.Errorf("%w: signer is %s", model.ErrAlreadyTerminal, sess.signer.Status)
		}
		if err := s.store.UpdateSignerStatus(ctx, tx, sess.signer.ID, model.SignerDeclined); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, audit.EventFor(sess.doc.TenantID, caller.actor(sess.signer.ID),
			model.EntitySigner, sess.signer.ID, model.ActionDeclined, nil)); err != nil {
			return err
		}
		sess.signer.Status = model.SignerDeclined
		signer = sess.signer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// File streams the document's current bytes to an authenticated signer.
func (s *Service) File(ctx context.Context, rawToken string) (*model.Document, []byte, error) {
	sess, err := s.resolve(ctx, s.store.DB(), rawToken)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.docs.FileBytes(ctx, sess.doc)
	if err != nil {
		return nil, nil, err
	}
	return sess.doc, data, nil
}

// sendOtp hands one code delivery to the notifier. Failures chain
// NOTIFICATION_FAILED; the issued rows stay valid so the signer can retry
// on another channel.
func (s *Service) sendOtp(ctx context.Context, sess *session, d delivery, code string) {
	ctx = context.WithoutCancel(ctx)
	msg := notify.Message{
		Kind:       notify.KindOtp,
		Channel:    d.channel,
		Recipient:  d.recipient,
		TenantID:   sess.doc.TenantID,
		DocumentID: sess.doc.ID,
		SignerID:   sess.signer.ID,
		Subject:    "Your signing code",
		Data:       map[string]string{"code": code},
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "otp notification failed",
			slog.String("signer_id", sess.signer.ID),
			slog.String("channel", string(d.channel)),
			slog.String("error", err.Error()))
		s.auditNotifyFailure(ctx, sess, d.channel, err)
	}
}

func (s *Service) auditNotifyFailure(ctx context.Context, sess *session, ch model.AuthChannel, cause error) {
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.LockDocument(ctx, tx, sess.doc.ID); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, tx, audit.EventFor(sess.doc.TenantID, model.SystemActor(),
			model.EntitySigner, sess.signer.ID, model.ActionNotificationFailed, map[string]any{
				"kind":    string(notify.KindOtp),
				"channel": string(ch),
				"error":   cause.Error(),
			}))
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "recording notification failure",
			slog.String("signer_id", sess.signer.ID), slog.String("error", err.Error()))
	}
}
