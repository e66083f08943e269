// Package jobs runs the periodic maintenance pass: documents past their
// deadline are expired, signers of documents approaching one are reminded,
// and expired one-time codes are swept.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/quill/pkg/audit"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/notify"
	"github.com/Mindburn-Labs/quill/pkg/otp"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

const (
	// DefaultInterval is one pass per day.
	DefaultInterval = 24 * time.Hour
	// DefaultReminderWindow is how far ahead of a deadline reminders go out.
	DefaultReminderWindow = 48 * time.Hour
)

// Deps carries the capabilities the runner operates through. Store,
// Documents, Audit and Otps are required.
type Deps struct {
	Store          *store.Store
	Documents      *document.Service
	Audit          *audit.Appender
	Otps           *otp.Service
	Notifier       notify.Notifier
	Clock          clock.Clock
	Logger         *slog.Logger
	Interval       time.Duration
	ReminderWindow time.Duration
}

// Runner is the deadline job.
type Runner struct {
	store    *store.Store
	docs     *document.Service
	audit    *audit.Appender
	otps     *otp.Service
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
	window   time.Duration
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(d Deps) *Runner {
	if d.Clock == nil {
		d.Clock = clock.System
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.ReminderWindow <= 0 {
		d.ReminderWindow = DefaultReminderWindow
	}
	return &Runner{
		store:    d.Store,
		docs:     d.Documents,
		audit:    d.Audit,
		otps:     d.Otps,
		notifier: d.Notifier,
		clock:    d.Clock,
		logger:   d.Logger.With(slog.String("component", "jobs")),
		interval: d.Interval,
		window:   d.ReminderWindow,
	}
}

// Run executes one pass immediately and then one per interval until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes one maintenance pass. Each stage logs its own failures;
// one document's error never stops the rest.
func (r *Runner) RunOnce(ctx context.Context) {
	r.expireOverdue(ctx)
	r.remindUpcoming(ctx)
	r.sweepOtps(ctx)
}

func (r *Runner) expireOverdue(ctx context.Context) {
	docs, err := r.store.ListDocumentsWithDeadlineBefore(ctx, r.store.DB(), r.clock.Stamp())
	if err != nil {
		r.logger.ErrorContext(ctx, "listing overdue documents", slog.String("error", err.Error()))
		return
	}
	for _, d := range docs {
		// Empty tenant scope: the scan already spans all tenants.
		if _, err := r.docs.Expire(ctx, model.SystemActor(), "", d.ID); err != nil {
			// The document may reach a terminal state between the scan
			// and the lock.
			if errors.Is(err, model.ErrAlreadyTerminal) {
				continue
			}
			r.logger.ErrorContext(ctx, "expiring document",
				slog.String("document_id", d.ID), slog.String("error", err.Error()))
			continue
		}
		r.logger.InfoContext(ctx, "document expired",
			slog.String("document_id", d.ID), slog.String("tenant_id", d.TenantID))
	}
}

func (r *Runner) remindUpcoming(ctx context.Context) {
	from := r.clock.Stamp()
	to := clock.Format(r.clock().Add(r.window))
	docs, err := r.store.ListDocumentsWithDeadlineBetween(ctx, r.store.DB(), from, to)
	if err != nil {
		r.logger.ErrorContext(ctx, "listing documents near deadline", slog.String("error", err.Error()))
		return
	}
	for _, d := range docs {
		if err := r.remindDocument(ctx, d); err != nil {
			r.logger.ErrorContext(ctx, "reminding signers",
				slog.String("document_id", d.ID), slog.String("error", err.Error()))
		}
	}
}

// remindDocument chains REMINDER_SENT for every open signer that has none
// yet and sends their notifications after the transaction commits. The chain
// entry is the dedupe record: a signer is reminded at most once per
// document.
func (r *Runner) remindDocument(ctx context.Context, d *model.Document) error {
	var due []*model.Signer
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.store.LockDocument(ctx, tx, d.ID); err != nil {
			return err
		}
		cur, err := r.store.GetDocument(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if !cur.Status.Signable() {
			return nil
		}
		signers, err := r.store.ListSignersByDocument(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		for _, sg := range signers {
			if sg.Status.Terminal() {
				continue
			}
			reminded, err := r.alreadyReminded(ctx, tx, sg.ID)
			if err != nil {
				return err
			}
			if reminded {
				continue
			}
			payload := map[string]any{"documentId": d.ID}
			if cur.DeadlineAt != nil {
				payload["deadlineAt"] = *cur.DeadlineAt
			}
			if _, err := r.audit.Append(ctx, tx, audit.EventFor(d.TenantID, model.SystemActor(),
				model.EntitySigner, sg.ID, model.ActionReminderSent, payload)); err != nil {
				return err
			}
			due = append(due, sg)
		}
		d = cur
		return nil
	})
	if err != nil {
		return err
	}
	for _, sg := range due {
		r.sendReminder(ctx, d, sg)
	}
	return nil
}

func (r *Runner) alreadyReminded(ctx context.Context, q store.Querier, signerID string) (bool, error) {
	entries, err := r.store.ListAuditByEntity(ctx, q, signerID)
	if err != nil {
		return false, err
	}
	for _, en := range entries {
		if en.Action == model.ActionReminderSent {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) sendReminder(ctx context.Context, d *model.Document, sg *model.Signer) {
	ctx = context.WithoutCancel(ctx)
	msg := notify.Message{
		Kind:       notify.KindReminder,
		Channel:    model.ChannelEmail,
		Recipient:  sg.Email,
		TenantID:   d.TenantID,
		DocumentID: d.ID,
		SignerID:   sg.ID,
		Subject:    fmt.Sprintf("Reminder: %s awaits your signature", d.Title),
	}
	if d.DeadlineAt != nil {
		msg.Data = map[string]string{"deadlineAt": *d.DeadlineAt}
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.logger.WarnContext(ctx, "reminder notification failed",
			slog.String("signer_id", sg.ID), slog.String("error", err.Error()))
		r.auditNotificationFailure(ctx, d.TenantID, d.ID, sg.ID, err)
	}
}

// auditNotificationFailure records a failed reminder delivery in its own
// transaction. A failure here is only logged.
func (r *Runner) auditNotificationFailure(ctx context.Context, tenantID, documentID, signerID string, cause error) {
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.store.LockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		_, err := r.audit.Append(ctx, tx, audit.EventFor(tenantID, model.SystemActor(),
			model.EntitySigner, signerID, model.ActionNotificationFailed, map[string]any{
				"kind":  string(notify.KindReminder),
				"error": cause.Error(),
			}))
		return err
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "recording notification failure",
			slog.String("signer_id", signerID), slog.String("error", err.Error()))
	}
}

func (r *Runner) sweepOtps(ctx context.Context) {
	n, err := r.otps.Sweep(ctx, r.store.DB())
	if err != nil {
		r.logger.ErrorContext(ctx, "sweeping expired codes", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "expired codes swept", slog.Int64("count", n))
	}
}
