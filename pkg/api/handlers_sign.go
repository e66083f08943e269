package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/ratelimit"
	"github.com/Mindburn-Labs/quill/pkg/sign"
)

func callerFor(r *http.Request) sign.Caller {
	return sign.Caller{
		IP:        ratelimit.ClientIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.signing.Summary(r.Context(), callerFor(r), r.PathValue("token"))
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cpf   *string `json:"cpf"`
		Phone *string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	signer, err := s.signing.Identify(r.Context(), callerFor(r), r.PathValue("token"), req.Cpf, req.Phone)
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, signer)
}

func (s *Server) handleOtpStart(w http.ResponseWriter, r *http.Request) {
	dispatches, err := s.signing.OtpStart(r.Context(), callerFor(r), r.PathValue("token"))
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": dispatches})
}

func (s *Server) handleOtpVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Otp string `json:"otp"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	signer, err := s.signing.OtpVerify(r.Context(), callerFor(r), r.PathValue("token"), req.Otp)
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, signer)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int     `json:"page"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	signer, err := s.signing.Position(r.Context(), callerFor(r), r.PathValue("token"), req.Page, req.X, req.Y)
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, signer)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientFingerprint    string `json:"clientFingerprint"`
		SignatureImageBase64 string `json:"signatureImageBase64"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	image, err := decodeSignatureImage(req.SignatureImageBase64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "signatureImageBase64 is not valid base64")
		return
	}
	result, err := s.signing.Commit(r.Context(), callerFor(r), r.PathValue("token"), req.ClientFingerprint, image)
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	signer, err := s.signing.Decline(r.Context(), callerFor(r), r.PathValue("token"))
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, signer)
}

func (s *Server) handleSignerFile(w http.ResponseWriter, r *http.Request) {
	doc, data, err := s.signing.File(r.Context(), r.PathValue("token"))
	if err != nil {
		writeSignerError(r.Context(), w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// decodeSignatureImage accepts plain base64 or a data URL.
func decodeSignatureImage(v string) ([]byte, error) {
	if strings.HasPrefix(v, "data:") {
		if _, rest, found := strings.Cut(v, "base64,"); found {
			v = rest
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(v))
}
