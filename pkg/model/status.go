package model

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "DRAFT"
	DocumentReady           DocumentStatus = "READY"
	DocumentPartiallySigned DocumentStatus = "PARTIALLY_SIGNED"
	DocumentSigned          DocumentStatus = "SIGNED"
	DocumentCancelled       DocumentStatus = "CANCELLED"
	DocumentExpired         DocumentStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentSigned, DocumentCancelled, DocumentExpired:
		return true
	}
	return false
}

// Signable reports whether signer-facing operations may touch the document.
func (s DocumentStatus) Signable() bool {
	return s == DocumentReady || s == DocumentPartiallySigned
}

// SignerStatus is the state of a Signer within the signing workflow.
type SignerStatus string

const (
	SignerPending  SignerStatus = "PENDING"
	SignerViewed   SignerStatus = "VIEWED"
	SignerSigned   SignerStatus = "SIGNED"
	SignerDeclined SignerStatus = "DECLINED"
)

// Terminal reports whether the signer can take no further action.
func (s SignerStatus) Terminal() bool {
	return s == SignerSigned || s == SignerDeclined
}

// Role is the coarse authority a User carries on document operations.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
)

// AuthChannel is a delivery channel for one-time codes and notifications.
type AuthChannel string

const (
	ChannelEmail    AuthChannel = "EMAIL"
	ChannelWhatsapp AuthChannel = "WHATSAPP"
)

// ValidChannel reports whether c is a recognized channel.
func ValidChannel(c AuthChannel) bool {
	return c == ChannelEmail || c == ChannelWhatsapp
}
