package model

// Document is an uploaded PDF moving through the signing pipeline.
//
// Timestamps are canonical ISO-8601 UTC millisecond strings (see pkg/clock);
// they are persisted verbatim so the audit chain hash input round-trips.
type Document struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	OwnerID    string         `json:"ownerId"`
	Title      string         `json:"title"`
	MimeType   string         `json:"mimeType"`
	Size       int64          `json:"size"`
	StorageKey string         `json:"storageKey"`
	Sha256     string         `json:"sha256"`
	Status     DocumentStatus `json:"status"`
	PageCount  int            `json:"pageCount"`
	DeadlineAt *string        `json:"deadlineAt,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// Certificate is the completion record written exactly once per Document at
// the SIGNED transition. DocumentID is the primary key.
type Certificate struct {
	DocumentID string `json:"documentId"`
	StorageKey string `json:"storageKey"`
	Sha256     string `json:"sha256"`
	IssuedAt   string `json:"issuedAt"`
}

// Tenant scopes every other row except audit chain keys.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Plan      string `json:"plan"`
	CreatedAt string `json:"createdAt"`
}

// User is a document owner or administrator within a tenant.
type User struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"createdAt"`
}
