package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/Mindburn-Labs/quill/pkg/auth"
	"github.com/Mindburn-Labs/quill/pkg/document"
	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
)

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

func actorFor(p auth.Principal, r *http.Request) model.Actor {
	return model.Actor{
		Kind:      model.ActorUser,
		ID:        p.UserID,
		IP:        ratelimit.ClientIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
}

// readUploadedFile pulls the documentFile part out of a multipart body.
func (s *Server) readUploadedFile(w http.ResponseWriter, r *http.Request) (string, string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid multipart body")
		return "", "", nil, false
	}
	file, header, err := r.FormFile("documentFile")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "documentFile part is required")
		return "", "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "reading upload failed")
		return "", "", nil, false
	}
	return header.Filename, header.Header.Get("Content-Type"), data, true
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	fileName, mimeType, data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}

	var deadline *string
	if v := r.FormValue("deadlineAt"); v != "" {
		deadline = &v
	}

	doc, err := s.docs.Create(r.Context(), actorFor(p, r), document.CreateInput{
		TenantID:   p.TenantID,
		OwnerID:    p.UserID,
		Title:      r.FormValue("title"),
		DeadlineAt: deadline,
		FileName:   fileName,
		MimeType:   mimeType,
		Data:       data,
	})
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	docs, total, err := s.docs.List(r.Context(), p.TenantID, page, pageSize)
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	doc, signers, err := s.docs.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	if signers == nil {
		signers = []*model.Signer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"signers":  signers,
	})
}

type signerPayload struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Phone         *string  `json:"phone"`
	Cpf           *string  `json:"cpf"`
	Qualification *string  `json:"qualification"`
	AuthChannels  []string `json:"authChannels"`
	Order         *int     `json:"order"`
}

type inviteRequest struct {
	Signers []signerPayload `json:"signers"`
	Message string          `json:"message"`
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := document.InviteInput{
		TenantID:   p.TenantID,
		DocumentID: r.PathValue("id"),
		Message:    req.Message,
	}
	for _, sp := range req.Signers {
		channels := make([]model.AuthChannel, len(sp.AuthChannels))
		for i, ch := range sp.AuthChannels {
			channels[i] = model.AuthChannel(ch)
		}
		in.Signers = append(in.Signers, document.SignerInput{
			Name:          sp.Name,
			Email:         sp.Email,
			Phone:         sp.Phone,
			Cpf:           sp.Cpf,
			Qualification: sp.Qualification,
			AuthChannels:  channels,
			Order:         sp.Order,
		})
	}

	invitations, err := s.docs.Invite(r.Context(), actorFor(p, r), in)
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}

	// Tokens travel to signers through the notifier only; the owner gets the
	// created records.
	signers := make([]*model.Signer, len(invitations))
	for i, inv := range invitations {
		signers[i] = inv.Signer
	}
	writeJSON(w, http.StatusCreated, map[string]any{"signers": signers})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	doc, err := s.docs.Cancel(r.Context(), actorFor(p, r), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	doc, err := s.docs.Expire(r.Context(), actorFor(p, r), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		writeMessage(w, http.StatusForbidden, "finalize requires an admin session")
		return
	}
	doc, err := s.docs.Finalize(r.Context(), actorFor(p, r), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	entries, err := s.docs.AuditTrail(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	report, err := s.docs.VerifyChain(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDocumentFile(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	doc, data, err := s.docs.Download(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(doc.StorageKey)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	cert, err := s.docs.Certificate(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleValidateFile(w http.ResponseWriter, r *http.Request) {
	_, _, data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	result, err := s.docs.ValidateFile(r.Context(), data)
	if err != nil {
		writeError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
