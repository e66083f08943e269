package model

import "encoding/json"

// ActorKind identifies who caused an audit event.
type ActorKind string

const (
	ActorUser   ActorKind = "USER"
	ActorSigner ActorKind = "SIGNER"
	ActorSystem ActorKind = "SYSTEM"
)

// EntityType identifies which entity an audit chain belongs to.
type EntityType string

const (
	EntityDocument EntityType = "DOCUMENT"
	EntitySigner   EntityType = "SIGNER"
)

// Actor carries caller attribution into audit entries. ID is empty for
// events the service initiates on its own.
type Actor struct {
	Kind      ActorKind
	ID        string
	IP        string
	UserAgent string
}

// SystemActor attributes an event to the service itself.
func SystemActor() Actor {
	return Actor{Kind: ActorSystem}
}

// Audit action codes. One constant per actor-observable event.
const (
	ActionStorageUploaded    = "STORAGE_UPLOADED"
	ActionInvited            = "INVITED"
	ActionViewed             = "VIEWED"
	ActionOtpSent            = "OTP_SENT"
	ActionOtpVerified        = "OTP_VERIFIED"
	ActionOtpFailed          = "OTP_FAILED"
	ActionSigned             = "SIGNED"
	ActionDeclined           = "DECLINED"
	ActionStatusChanged      = "STATUS_CHANGED"
	ActionPadesSigned        = "PADES_SIGNED"
	ActionCertificateIssued  = "CERTIFICATE_ISSUED"
	ActionNotificationFailed = "NOTIFICATION_FAILED"
	ActionReminderSent       = "REMINDER_SENT"
)

// AuditEntry is one link in a per-entity hash chain. Rows are append-only;
// Seq orders rows that share a createdAt millisecond.
type AuditEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"-"`
	TenantID      string          `json:"tenantId"`
	ActorKind     ActorKind       `json:"actorKind"`
	ActorID       *string         `json:"actorId,omitempty"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Action        string          `json:"action"`
	IP            string          `json:"ip"`
	UserAgent     string          `json:"userAgent"`
	PayloadJSON   json.RawMessage `json:"payload,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	PrevEventHash string          `json:"prevEventHash"`
	EventHash     string          `json:"eventHash"`
}
