package model

// Signer is a party invited to sign a Document. Once SIGNED, the signature
// fields are immutable.
type Signer struct {
	ID                    string        `json:"id"`
	DocumentID            string        `json:"documentId"`
	Name                  string        `json:"name"`
	Email                 string        `json:"email"`
	Phone                 *string       `json:"phone,omitempty"`
	Cpf                   *string       `json:"cpf,omitempty"`
	Qualification         *string       `json:"qualification,omitempty"`
	AuthChannels          []AuthChannel `json:"authChannels"`
	Order                 int           `json:"order"`
	Status                SignerStatus  `json:"status"`
	SignedAt              *string       `json:"signedAt,omitempty"`
	OtpVerifiedAt         *string       `json:"otpVerifiedAt,omitempty"`
	SignatureHash         *string       `json:"signatureHash,omitempty"`
	SignatureArtefactPath *string       `json:"signatureArtefactPath,omitempty"`
	SignaturePositionPage *int          `json:"signaturePositionPage,omitempty"`
	SignaturePositionX    *float64      `json:"signaturePositionX,omitempty"`
	SignaturePositionY    *float64      `json:"signaturePositionY,omitempty"`
}

// Contacts returns the recipient addresses a one-time code may match:
// the signer's email and, when present, the E.164 phone.
func (s *Signer) Contacts() []string {
	out := []string{s.Email}
	if s.Phone != nil && *s.Phone != "" {
		out = append(out, *s.Phone)
	}
	return out
}

// HasChannel reports whether the signer accepts delivery on c.
func (s *Signer) HasChannel(c AuthChannel) bool {
	for _, ch := range s.AuthChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// ShareToken authorises exactly one signer on one document. Only the
// SHA-256 of the cleartext token is persisted.
type ShareToken struct {
	TokenHash  string  `json:"tokenHash"`
	DocumentID string  `json:"documentId"`
	SignerID   string  `json:"signerId"`
	ExpiresAt  string  `json:"expiresAt"`
	ConsumedAt *string `json:"consumedAt,omitempty"`
}

// OtpCode is a short-lived signing challenge. CodeHash is a bcrypt digest;
// rows are deleted on successful verification.
type OtpCode struct {
	ID        string      `json:"id"`
	Recipient string      `json:"recipient"`
	Channel   AuthChannel `json:"channel"`
	CodeHash  string      `json:"-"`
	ExpiresAt string      `json:"expiresAt"`
	Context   string      `json:"context"`
	CreatedAt string      `json:"createdAt"`
}

// OtpContextSigning is the only OTP context the signing core issues.
const OtpContextSigning = "SIGNING"
