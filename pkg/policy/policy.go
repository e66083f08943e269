// Package policy enforces tenant plan limits. Each plan carries numeric
// limits plus the CEL rules that judge them against a usage snapshot; rules
// that evaluate false surface as ErrLimitExceeded violations.
package policy

import (
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Built-in plan names. Tenants reference plans by name; unknown names fall
// back to FREE.
const (
	PlanFree       = "FREE"
	PlanPro        = "PRO"
	PlanEnterprise = "ENTERPRISE"
)

// Limits are the per-plan ceilings. -1 means unlimited.
type Limits struct {
	MaxDocumentsPerMonth  int64 `yaml:"max_documents_per_month" json:"max_documents_per_month"`
	MaxSignersPerDocument int64 `yaml:"max_signers_per_document" json:"max_signers_per_document"`
	MaxFileSizeBytes      int64 `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	AllowWhatsapp         bool  `yaml:"allow_whatsapp" json:"allow_whatsapp"`
}

// RuleKind splits violations into quota exhaustion (payment required) and
// features the plan simply does not include.
type RuleKind string

const (
	RuleVolume     RuleKind = "volume"
	RuleCapability RuleKind = "capability"
)

// Rule is one CEL expression over `plan` and `usage`. It must evaluate to a
// bool; false blocks the operation.
type Rule struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    RuleKind `yaml:"kind" json:"kind"`
	Expr    string   `yaml:"expr" json:"expr"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// PlanSpec is a named plan. Plans without their own rules use the default
// rule set.
type PlanSpec struct {
	Name   string `yaml:"name" json:"name"`
	Limits Limits `yaml:"limits" json:"limits"`
	Rules  []Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Usage is the snapshot a rule set evaluates against. Callers fill only the
// fields relevant to the operation; zero values pass every default rule.
type Usage struct {
	DocumentsThisMonth int64
	SignerCount        int64
	FileSizeBytes      int64
	WantsWhatsapp      bool
}

// Violation reports the first rule that blocked an operation. It unwraps to
// model.ErrLimitExceeded; the HTTP layer keys the status code off Kind.
type Violation struct {
	Plan    string
	Rule    string
	Kind    RuleKind
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("plan %s: %s", v.Plan, v.Message)
}

func (v *Violation) Unwrap() error { return model.ErrLimitExceeded }

func defaultPlans() []PlanSpec {
	return []PlanSpec{
		{
			Name: PlanFree,
			Limits: Limits{
				MaxDocumentsPerMonth:  10,
				MaxSignersPerDocument: 3,
				MaxFileSizeBytes:      5 << 20,
				AllowWhatsapp:         false,
			},
		},
		{
			Name: PlanPro,
			Limits: Limits{
				MaxDocumentsPerMonth:  500,
				MaxSignersPerDocument: 20,
				MaxFileSizeBytes:      25 << 20,
				AllowWhatsapp:         true,
			},
		},
		{
			Name: PlanEnterprise,
			Limits: Limits{
				MaxDocumentsPerMonth:  -1,
				MaxSignersPerDocument: -1,
				MaxFileSizeBytes:      100 << 20,
				AllowWhatsapp:         true,
			},
		},
	}
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name:    "documents_per_month",
			Kind:    RuleVolume,
			Expr:    "plan.max_documents_per_month < 0 || usage.documents_this_month < plan.max_documents_per_month",
			Message: "monthly document quota reached",
		},
		{
			Name:    "signers_per_document",
			Kind:    RuleVolume,
			Expr:    "plan.max_signers_per_document < 0 || usage.signer_count <= plan.max_signers_per_document",
			Message: "signer count exceeds the plan maximum",
		},
		{
			Name:    "file_size",
			Kind:    RuleVolume,
			Expr:    "plan.max_file_size_bytes < 0 || usage.file_size_bytes <= plan.max_file_size_bytes",
			Message: "file exceeds the plan size limit",
		},
		{
			Name:    "whatsapp_channel",
			Kind:    RuleCapability,
			Expr:    "!usage.wants_whatsapp || plan.allow_whatsapp",
			Message: "WHATSAPP delivery requires a plan upgrade",
		},
	}
}
