// Package api is the HTTP surface of the signing service. Owner and admin
// routes authenticate with a bearer session, signer routes with the share
// token in the path, and the file validator with the uploaded bytes
// themselves. Handlers decode, call a service, and encode; every error
// funnels through one writer so the status map stays in one place.
package api

import (
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/quill/pkg/auth"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/observability"
	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
	"github.com/Mindburn-Labs/quill/pkg/sign"
)

// DefaultMaxUploadBytes caps multipart bodies before the plan limits get a
// say. Plans bound the accepted document size; this bounds the parse.
const DefaultMaxUploadBytes int64 = 64 << 20

// Deps wires the HTTP layer. Documents and Signing are required; nil
// optional dependencies disable the corresponding middleware.
type Deps struct {
	Documents      *document.Service
	Signing        *sign.Service
	Auth           *auth.Verifier
	IPLimit        *ratelimit.IPLimiter
	Obs            *observability.Provider
	CORSOrigins    []string
	Logger         *slog.Logger
	Version        string
	MaxUploadBytes int64
}

// Server holds the handler state.
type Server struct {
	docs      *document.Service
	signing   *sign.Service
	verifier  *auth.Verifier
	ipLimit   *ratelimit.IPLimiter
	obs       *observability.Provider
	cors      []string
	logger    *slog.Logger
	version   string
	maxUpload int64
}

// New builds the server.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Server{
		docs:      d.Documents,
		signing:   d.Signing,
		verifier:  d.Auth,
		ipLimit:   d.IPLimit,
		obs:       d.Obs,
		cors:      d.CORSOrigins,
		logger:    d.Logger.With(slog.String("component", "api")),
		version:   d.Version,
		maxUpload: d.MaxUploadBytes,
	}
}

// Handler assembles the route table and the middleware chain around it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("POST /documents/validate-file", s.handleValidateFile)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("POST /documents/{id}/invite", s.handleInvite)
	mux.HandleFunc("POST /documents/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /documents/{id}/expire", s.handleExpire)
	mux.HandleFunc("POST /documents/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("GET /documents/{id}/audit", s.handleAuditTrail)
	mux.HandleFunc("GET /documents/{id}/verify-chain", s.handleVerifyChain)
	mux.HandleFunc("GET /documents/{id}/file", s.handleDocumentFile)
	mux.HandleFunc("GET /documents/{id}/certificate", s.handleCertificate)

	mux.HandleFunc("GET /sign/{token}", s.handleSummary)
	mux.HandleFunc("POST /sign/{token}/identify", s.handleIdentify)
	mux.HandleFunc("POST /sign/{token}/otp/start", s.handleOtpStart)
	mux.HandleFunc("POST /sign/{token}/otp/verify", s.handleOtpVerify)
	mux.HandleFunc("POST /sign/{token}/position", s.handlePosition)
	mux.HandleFunc("POST /sign/{token}/commit", s.handleCommit)
	mux.HandleFunc("POST /sign/{token}/decline", s.handleDecline)
	mux.HandleFunc("GET /sign/{token}/file", s.handleSignerFile)

	var h http.Handler = mux
	h = auth.NewMiddleware(s.verifier)(h)
	if s.obs != nil {
		h = s.obs.Middleware(h)
	}
	if s.ipLimit != nil {
		h = s.rateLimitMiddleware(h)
	}
	h = auth.CORSMiddleware(s.cors)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

// rateLimitMiddleware rejects flooding IPs before any work happens.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ipLimit.Allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "5")
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "quill",
		"version": s.version,
		"time":    s.docs.Now(),
	})
}
