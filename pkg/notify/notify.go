// Package notify delivers signer-facing messages: invites, one-time codes,
// completion notices and deadline reminders. Delivery is best-effort; the
// signing core records NOTIFICATION_FAILED instead of rolling back.
package notify

import (
	"context"
	"strings"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Kind classifies an outbound message.
type Kind string

const (
	KindInvite    Kind = "INVITE"
	KindOtp       Kind = "OTP"
	KindCompleted Kind = "COMPLETED"
	KindReminder  Kind = "REMINDER"
)

// Message is one outbound notification. Recipient holds the raw address;
// implementations must mask it before it reaches any log line.
type Message struct {
	Kind       Kind              `json:"kind"`
	Channel    model.AuthChannel `json:"channel"`
	Recipient  string            `json:"recipient"`
	TenantID   string            `json:"tenantId"`
	DocumentID string            `json:"documentId"`
	SignerID   string            `json:"signerId,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
}

// Notifier delivers messages over whatever transport the deployment wires.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// MaskRecipient hides enough of an address to keep logs and audit payloads
// free of contact data. Emails keep the first rune and the domain; phone
// numbers keep the last four digits.
func MaskRecipient(addr string) string {
	if addr == "" {
		return ""
	}
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		if at == 0 {
			return "***" + addr
		}
		local := []rune(addr[:at])
		return string(local[0]) + "***" + addr[at:]
	}
	runes := []rune(addr)
	if len(runes) <= 4 {
		return "***"
	}
	return "***" + string(runes[len(runes)-4:])
}
