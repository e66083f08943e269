package sign_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/quill/pkg/audit"
	"github.com/Mindburn-Labs/quill/pkg/blob"
	"github.com/Mindburn-Labs/quill/pkg/canonicalize"
	"github.com/Mindburn-Labs/quill/pkg/clock"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/notify"
	"github.com/Mindburn-Labs/quill/pkg/otp"
	"github.com/Mindburn-Labs/quill/pkg/pdf"
	"github.com/Mindburn-Labs/quill/pkg/policy"
	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
	"github.com/Mindburn-Labs/quill/pkg/sign"
	"github.com/Mindburn-Labs/quill/pkg/store"
)

type env struct {
	store    *store.Store
	blobs    blob.Store
	notifier *notify.CaptureNotifier
	clock    clock.Clock
	docs     *document.Service
	sign     *sign.Service
}

func newEnv(t *testing.T, limit ratelimit.Bucket) *env {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "quill.db") +
		"?_pragma=busy_timeout(10000)&_txlock=immediate&_pragma=journal_mode(WAL)"
	st, err := store.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, st.Init(ctx))
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	engine, err := policy.NewEngine()
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewStepper(time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC), time.Second).Clock()
	capture := notify.NewCaptureNotifier()
	appender := audit.NewAppender(st, clk, "")

	docs := document.NewService(document.Deps{
		Store:     st,
		Blobs:     blobs,
		Audit:     appender,
		Verifier:  audit.NewVerifier(st, ""),
		Finalizer: pdf.NewFinalizer(quiet),
		Notifier:  capture,
		Plans:     engine,
		Clock:     clk,
		Logger:    quiet,
	})
	signer := sign.NewService(sign.Deps{
		Store:     st,
		Blobs:     blobs,
		Audit:     appender,
		Otps:      otp.NewService(st, clk, bcrypt.MinCost, otp.DefaultTTL),
		Documents: docs,
		Notifier:  capture,
		OtpLimit:  limit,
		Clock:     clk,
		Logger:    quiet,
	})
	return &env{store: st, blobs: blobs, notifier: capture, clock: clk, docs: docs, sign: signer}
}

func caller() sign.Caller {
	return sign.Caller{IP: "203.0.113.50", UserAgent: "quill-test/1.0"}
}

func ownerActor(id string) model.Actor {
	return model.Actor{Kind: model.ActorUser, ID: id, IP: "198.51.100.7", UserAgent: "quill-test/1.0"}
}

// seedDocument creates a tenant, an owner, a two-page document, and the
// requested signers. It returns the document and one share token per signer.
func (e *env) seedDocument(t *testing.T, signerInputs ...document.SignerInput) (*model.Document, []string) {
	t.Helper()
	ctx := context.Background()

	tenantID := uuid.NewString()
	ownerID := uuid.NewString()
	require.NoError(t, e.store.InsertTenant(ctx, e.store.DB(), &model.Tenant{
		ID: tenantID, Name: "Acme Corp", Plan: policy.PlanPro, CreatedAt: e.clock.Stamp(),
	}))
	require.NoError(t, e.store.InsertUser(ctx, e.store.DB(), &model.User{
		ID: ownerID, TenantID: tenantID, Email: "owner@acme.test",
		Name: "Dana Owner", Role: model.RoleAdmin, CreatedAt: e.clock.Stamp(),
	}))

	doc, err := e.docs.Create(ctx, ownerActor(ownerID), document.CreateInput{
		TenantID: tenantID, OwnerID: ownerID, Title: "Consulting Agreement",
		FileName: "agreement.pdf", MimeType: "application/pdf", Data: buildPDF(t, 2),
	})
	require.NoError(t, err)

	invs, err := e.docs.Invite(ctx, ownerActor(ownerID), document.InviteInput{
		TenantID: tenantID, DocumentID: doc.ID, Signers: signerInputs,
	})
	require.NoError(t, err)

	tokens := make([]string, len(invs))
	for i, inv := range invs {
		tokens[i] = inv.Token
	}
	e.notifier.Reset()
	return doc, tokens
}

// verifyOtp walks one signer through summary, otp start, and otp verify.
func (e *env) verifyOtp(t *testing.T, token string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.sign.Summary(ctx, caller(), token)
	require.NoError(t, err)
	_, err = e.sign.OtpStart(ctx, caller(), token)
	require.NoError(t, err)
	_, err = e.sign.OtpVerify(ctx, caller(), token, e.lastOtpCode(t))
	require.NoError(t, err)
}

func (e *env) lastOtpCode(t *testing.T) string {
	t.Helper()
	msg, ok := e.notifier.LastOfKind(notify.KindOtp)
	require.True(t, ok, "no OTP notification captured")
	return msg.Data["code"]
}

func (e *env) trail(t *testing.T, doc *model.Document) []*model.AuditEntry {
	t.Helper()
	entries, err := e.docs.AuditTrail(context.Background(), doc.TenantID, doc.ID)
	require.NoError(t, err)
	return entries
}

func countAction(entries []*model.AuditEntry, action string) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func emailSigner(name, email string) document.SignerInput {
	return document.SignerInput{
		Name: name, Email: email,
		AuthChannels: []model.AuthChannel{model.ChannelEmail},
	}
}

func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()

	var buf bytes.Buffer
	var offsets []int

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	contentObj := 3 + pages

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", contentObj))
	}
	stream := "BT ET"
	writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))

	xrefAt := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefAt)

	return buf.Bytes()
}

func buildPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 240, 90))
	for x := 0; x < 240; x++ {
		for y := 0; y < 90; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y * 2), B: 0x20, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSummaryMovesToViewedOnce(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	sum, err := e.sign.Summary(ctx, caller(), tokens[0])
	require.NoError(t, err)
	require.Equal(t, model.SignerViewed, sum.Signer.Status)
	require.Equal(t, doc.ID, sum.Document.ID)
	require.Equal(t, 2, sum.Document.PageCount)
	require.Equal(t, "/sign/"+tokens[0]+"/file", sum.DownloadURL)

	again, err := e.sign.Summary(ctx, caller(), tokens[0])
	require.NoError(t, err)
	require.Equal(t, model.SignerViewed, again.Signer.Status)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionViewed), "repeat summary must not chain again")
}

func TestResolveRejectsBadTokens(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	_, err := e.sign.Summary(ctx, caller(), "")
	require.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = e.sign.Summary(ctx, caller(), "tok_forged_zzzz")
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	// A deadline in the past makes the minted token already expired.
	tenantID := uuid.NewString()
	ownerID := uuid.NewString()
	require.NoError(t, e.store.InsertTenant(ctx, e.store.DB(), &model.Tenant{
		ID: tenantID, Name: "Acme", Plan: policy.PlanFree, CreatedAt: e.clock.Stamp(),
	}))
	require.NoError(t, e.store.InsertUser(ctx, e.store.DB(), &model.User{
		ID: ownerID, TenantID: tenantID, Email: "o@acme.test", Name: "O",
		Role: model.RoleAdmin, CreatedAt: e.clock.Stamp(),
	}))
	deadline := clock.Format(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	doc, err := e.docs.Create(ctx, ownerActor(ownerID), document.CreateInput{
		TenantID: tenantID, OwnerID: ownerID, FileName: "old.pdf",
		DeadlineAt: &deadline, Data: buildPDF(t, 1),
	})
	require.NoError(t, err)
	invs, err := e.docs.Invite(ctx, ownerActor(ownerID), document.InviteInput{
		TenantID: tenantID, DocumentID: doc.ID,
		Signers: []document.SignerInput{emailSigner("Alice", "alice@example.com")},
	})
	require.NoError(t, err)

	_, err = e.sign.Summary(ctx, caller(), invs[0].Token)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestCancelledDocumentIsTerminalForSigners(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	before := len(e.trail(t, doc))
	_, err := e.docs.Cancel(ctx, ownerActor(doc.OwnerID), doc.TenantID, doc.ID)
	require.NoError(t, err)

	_, err = e.sign.Summary(ctx, caller(), tokens[0])
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)

	_, err = e.sign.Commit(ctx, caller(), tokens[0], "fp-1", buildPNG(t))
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)

	entries := e.trail(t, doc)
	require.Zero(t, countAction(entries, model.ActionSigned))
	require.Len(t, entries, before+1, "only the STATUS_CHANGED entry may follow")

	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestIdentifyUpdatesContactFields(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	cpf := "123.456.789-09"
	phone := "+5511987654321"
	sg, err := e.sign.Identify(ctx, caller(), tokens[0], &cpf, &phone)
	require.NoError(t, err)
	require.Equal(t, cpf, *sg.Cpf)
	require.Equal(t, phone, *sg.Phone)

	// Nil fields keep stored values.
	sg, err = e.sign.Identify(ctx, caller(), tokens[0], nil, nil)
	require.NoError(t, err)
	require.Equal(t, cpf, *sg.Cpf)
	require.Equal(t, phone, *sg.Phone)
}

func TestOtpStartIssuesPerChannel(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	phone := "+5511987650000"
	doc, tokens := e.seedDocument(t, document.SignerInput{
		Name: "Alice", Email: "alice@example.com", Phone: &phone,
		AuthChannels: []model.AuthChannel{model.ChannelEmail, model.ChannelWhatsapp},
	})

	dispatches, err := e.sign.OtpStart(ctx, caller(), tokens[0])
	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	require.Equal(t, model.ChannelEmail, dispatches[0].Channel)
	require.Equal(t, model.ChannelWhatsapp, dispatches[1].Channel)
	require.Equal(t, "a***@example.com", dispatches[0].MaskedRecipient)
	require.Equal(t, "***0000", dispatches[1].MaskedRecipient)

	msgs := e.notifier.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, msgs[0].Data["code"], msgs[1].Data["code"], "one code across channels")
	require.Len(t, msgs[0].Data["code"], 6)
	require.Equal(t, "alice@example.com", msgs[0].Recipient)
	require.Equal(t, phone, msgs[1].Recipient)

	entries := e.trail(t, doc)
	require.Equal(t, 2, countAction(entries, model.ActionOtpSent))
	for _, en := range entries {
		if en.Action == model.ActionOtpSent {
			require.NotContains(t, string(en.PayloadJSON), msgs[0].Data["code"],
				"cleartext code must never reach the chain")
		}
	}

	// One row per channel, addressed separately.
	emailRow, err := e.store.LatestOtpForRecipients(ctx, e.store.DB(), []string{"alice@example.com"}, model.OtpContextSigning)
	require.NoError(t, err)
	require.Equal(t, model.ChannelEmail, emailRow.Channel)
	phoneRow, err := e.store.LatestOtpForRecipients(ctx, e.store.DB(), []string{phone}, model.OtpContextSigning)
	require.NoError(t, err)
	require.Equal(t, model.ChannelWhatsapp, phoneRow.Channel)
}

func TestOtpStartThrottlesPerRecipient(t *testing.T) {
	e := newEnv(t, ratelimit.NewLocalBucket(ratelimit.SendPolicy{PerMinute: 1, Burst: 1}))
	ctx := context.Background()
	_, tokens := e.seedDocument(t,
		emailSigner("Alice", "alice@example.com"),
		emailSigner("Bob", "bob@example.com"))

	_, err := e.sign.OtpStart(ctx, caller(), tokens[0])
	require.NoError(t, err)
	_, err = e.sign.OtpStart(ctx, caller(), tokens[0])
	require.ErrorIs(t, err, model.ErrLimitExceeded)

	// Another recipient has its own bucket.
	_, err = e.sign.OtpStart(ctx, caller(), tokens[1])
	require.NoError(t, err)
}

func TestOtpVerifyConsumesCode(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	_, err := e.sign.Summary(ctx, caller(), tokens[0])
	require.NoError(t, err)
	_, err = e.sign.OtpStart(ctx, caller(), tokens[0])
	require.NoError(t, err)
	code := e.lastOtpCode(t)

	sg, err := e.sign.OtpVerify(ctx, caller(), tokens[0], code)
	require.NoError(t, err)
	require.NotNil(t, sg.OtpVerifiedAt)

	// Replaying the consumed code fails and is chained.
	_, err = e.sign.OtpVerify(ctx, caller(), tokens[0], code)
	require.ErrorIs(t, err, model.ErrOtpWrong)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionOtpVerified))
	require.Equal(t, 1, countAction(entries, model.ActionOtpFailed))

	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestOtpVerifyWrongCode(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	_, err := e.sign.OtpStart(ctx, caller(), tokens[0])
	require.NoError(t, err)

	_, err = e.sign.OtpVerify(ctx, caller(), tokens[0], "000000")
	require.ErrorIs(t, err, model.ErrOtpWrong)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionOtpFailed))
	for _, en := range entries {
		if en.Action == model.ActionOtpFailed {
			require.Contains(t, string(en.PayloadJSON), "wrong_code")
		}
	}
}

func TestPositionValidatesBounds(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	_, err := e.sign.Position(ctx, caller(), tokens[0], 0, 10, 10)
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = e.sign.Position(ctx, caller(), tokens[0], 3, 10, 10)
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = e.sign.Position(ctx, caller(), tokens[0], 1, -1, 10)
	require.ErrorIs(t, err, model.ErrValidation)

	sg, err := e.sign.Position(ctx, caller(), tokens[0], 2, 120.5, 48.25)
	require.NoError(t, err)
	require.Equal(t, 2, *sg.SignaturePositionPage)
	require.Equal(t, 120.5, *sg.SignaturePositionX)
	require.Equal(t, 48.25, *sg.SignaturePositionY)
}

func TestCommitRequiresVerifiedOtp(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	_, err := e.sign.Summary(ctx, caller(), tokens[0])
	require.NoError(t, err)

	_, err = e.sign.Commit(ctx, caller(), tokens[0], "fp-1", buildPNG(t))
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCommitRejectsBadInput(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))
	e.verifyOtp(t, tokens[0])

	_, err := e.sign.Commit(ctx, caller(), tokens[0], "   ", buildPNG(t))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = e.sign.Commit(ctx, caller(), tokens[0], "fp-1", []byte("not a png"))
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCommitSingleSignerFinalizes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice Almeida", "alice@example.com"))
	originalSha := doc.Sha256

	e.verifyOtp(t, tokens[0])
	pngBytes := buildPNG(t)

	res, err := e.sign.Commit(ctx, caller(), tokens[0], "fp-1", pngBytes)
	require.NoError(t, err)
	require.True(t, res.IsComplete)

	// The signature hash binds document bytes, signer, instant, and device.
	signers, err := e.store.ListSignersByDocument(ctx, e.store.DB(), doc.ID)
	require.NoError(t, err)
	require.Len(t, signers, 1)
	sg := signers[0]
	require.Equal(t, model.SignerSigned, sg.Status)
	expected := canonicalize.HashBytes([]byte(originalSha + sg.ID + *sg.SignedAt + "fp-1"))
	require.Equal(t, expected, res.SignatureHash)
	require.Equal(t, expected, *sg.SignatureHash)
	require.Equal(t, strings.ToUpper(expected[:6]), res.ShortCode)

	// Artefact stored verbatim under the tenant partition.
	artefact, err := e.blobs.Get(ctx, *sg.SignatureArtefactPath)
	require.NoError(t, err)
	require.Equal(t, pngBytes, artefact)
	require.Equal(t, document.SignatureArtefactKey(doc.TenantID, sg.ID), *sg.SignatureArtefactPath)

	// Document finalized, certificate issued, completion notice sent.
	final, _, err := e.docs.Get(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentSigned, final.Status)
	require.Contains(t, final.StorageKey, "-signed")

	cert, err := e.docs.Certificate(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, final.Sha256, cert.Sha256)

	done, ok := e.notifier.LastOfKind(notify.KindCompleted)
	require.True(t, ok)
	require.Equal(t, "alice@example.com", done.Recipient)

	// Share token is spent.
	tok, err := e.store.GetShareTokenByHash(ctx, e.store.DB(), canonicalize.HashBytes([]byte(tokens[0])))
	require.NoError(t, err)
	require.NotNil(t, tok.ConsumedAt)

	// Every action of the workflow appears at least once and the chain
	// still verifies.
	entries := e.trail(t, doc)
	for _, action := range []string{
		model.ActionStorageUploaded, model.ActionInvited, model.ActionViewed,
		model.ActionOtpSent, model.ActionOtpVerified, model.ActionSigned,
		model.ActionStatusChanged, model.ActionPadesSigned, model.ActionCertificateIssued,
	} {
		require.GreaterOrEqual(t, countAction(entries, action), 1, action)
	}
	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)

	// A second commit is refused and the chain length stays put.
	chainLen := len(entries)
	_, err = e.sign.Commit(ctx, caller(), tokens[0], "fp-2", pngBytes)
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)
	require.Len(t, e.trail(t, doc), chainLen)
}

func TestCommitTwoSignersSequential(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t,
		emailSigner("Alice", "alice@example.com"),
		emailSigner("Bob", "bob@example.com"))

	e.verifyOtp(t, tokens[0])
	first, err := e.sign.Commit(ctx, caller(), tokens[0], "fp-a", buildPNG(t))
	require.NoError(t, err)
	require.False(t, first.IsComplete)

	mid, _, err := e.docs.Get(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentPartiallySigned, mid.Status)

	e.verifyOtp(t, tokens[1])
	second, err := e.sign.Commit(ctx, caller(), tokens[1], "fp-b", buildPNG(t))
	require.NoError(t, err)
	require.True(t, second.IsComplete)

	final, _, err := e.docs.Get(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentSigned, final.Status)

	entries := e.trail(t, doc)
	require.Equal(t, 2, countAction(entries, model.ActionSigned))
	require.Equal(t, 1, countAction(entries, model.ActionCertificateIssued))

	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestCommitConcurrentSignersFinalizeOnce(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t,
		emailSigner("Alice", "alice@example.com"),
		emailSigner("Bob", "bob@example.com"))

	e.verifyOtp(t, tokens[0])
	e.verifyOtp(t, tokens[1])

	results := make([]*sign.CommitResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			results[i], errs[i] = e.sign.Commit(ctx, caller(), tok, fmt.Sprintf("fp-%d", i), buildPNG(t))
		}(i, tok)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, results[0].IsComplete, results[1].IsComplete,
		"exactly one commit may observe the complete set")

	final, _, err := e.docs.Get(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentSigned, final.Status)

	cert, err := e.docs.Certificate(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, final.Sha256, cert.Sha256)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionCertificateIssued))
	require.Equal(t, 1, countAction(entries, model.ActionPadesSigned))

	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestDeclineIsTerminalForTheSigner(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	sg, err := e.sign.Decline(ctx, caller(), tokens[0])
	require.NoError(t, err)
	require.Equal(t, model.SignerDeclined, sg.Status)

	_, err = e.sign.Decline(ctx, caller(), tokens[0])
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)
	_, err = e.sign.Commit(ctx, caller(), tokens[0], "fp-1", buildPNG(t))
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)

	// The document stays open for the owner to act on.
	got, _, err := e.docs.Get(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentReady, got.Status)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionDeclined))
}

func TestFileServesDocumentBytes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	got, data, err := e.sign.File(ctx, tokens[0])
	require.NoError(t, err)
	require.Equal(t, doc.ID, got.ID)
	require.Equal(t, doc.Sha256, canonicalize.HashBytes(data))
}

func TestOtpNotificationFailureIsChained(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	doc, tokens := e.seedDocument(t, emailSigner("Alice", "alice@example.com"))

	e.notifier.FailWith(fmt.Errorf("smtp relay down"))
	_, err := e.sign.OtpStart(ctx, caller(), tokens[0])
	require.NoError(t, err, "delivery failure must not fail the operation")
	e.notifier.FailWith(nil)

	entries := e.trail(t, doc)
	require.Equal(t, 1, countAction(entries, model.ActionOtpSent))
	require.Equal(t, 1, countAction(entries, model.ActionNotificationFailed))

	report, err := e.docs.VerifyChain(ctx, doc.TenantID, doc.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)
}
