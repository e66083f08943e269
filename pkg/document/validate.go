package document

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/quill/pkg/canonicalize"
	"github.com/Mindburn-Labs/quill/pkg/model"
)

// ValidationResult is the provenance check outcome.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Document *ProvenanceDoc `json:"document,omitempty"`
}

// ProvenanceDoc is the metadata disclosed for a matched file.
type ProvenanceDoc struct {
	Title     string               `json:"title"`
	Status    model.DocumentStatus `json:"status"`
	CreatedAt string               `json:"createdAt"`
	OwnerName string               `json:"ownerName"`
	Signers   []ProvenanceSigner   `json:"signers"`
}

// ProvenanceSigner is one signer's public slice of the provenance record.
type ProvenanceSigner struct {
	Name     string             `json:"name"`
	Email    string             `json:"email"`
	Status   model.SignerStatus `json:"status"`
	SignedAt *string            `json:"signedAt,omitempty"`
}

// ValidateFile reports whether data is byte-identical to a PDF this service
// ingested or produced. The lookup is content addressed across tenants:
// possession of the exact bytes is the credential, so no tenant scoping
// applies. No state changes and no audit entries.
func (s *Service) ValidateFile(ctx context.Context, data []byte) (*ValidationResult, error) {
	if len(data) == 0 {
		return &ValidationResult{}, nil
	}
	db := s.store.DB()
	sha := canonicalize.HashBytes(data)
	d, err := s.store.FindDocumentBySha256(ctx, db, sha)
	if errors.Is(err, model.ErrNotFound) {
		return &ValidationResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	ownerName := ""
	owner, err := s.store.GetUser(ctx, db, d.OwnerID)
	switch {
	case err == nil:
		ownerName = owner.Name
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	signers, err := s.store.ListSignersByDocument(ctx, db, d.ID)
	if err != nil {
		return nil, err
	}

	doc := &ProvenanceDoc{
		Title:     d.Title,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
		OwnerName: ownerName,
		Signers:   make([]ProvenanceSigner, 0, len(signers)),
	}
	for _, sg := range signers {
		doc.Signers = append(doc.Signers, ProvenanceSigner{
			Name:     sg.Name,
			Email:    sg.Email,
			Status:   sg.Status,
			SignedAt: sg.SignedAt,
		})
	}
	return &ValidationResult{Valid: true, Document: doc}, nil
}
