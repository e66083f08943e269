package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

const signerColumns = `id, document_id, name, email, phone, cpf, qualification, auth_channels, sign_order, status, signed_at, otp_verified_at, signature_hash, signature_artefact_path, signature_position_page, signature_position_x, signature_position_y`

func scanSigner(r rowScanner) (*model.Signer, error) {
	var (
		sg                    model.Signer
		phone, cpf, qual      sql.NullString
		channels              string
		signedAt, otpVerified sql.NullString
		sigHash, sigPath      sql.NullString
		posPage               sql.NullInt64
		posX, posY            sql.NullFloat64
	)
	err := r.Scan(&sg.ID, &sg.DocumentID, &sg.Name, &sg.Email, &phone, &cpf, &qual,
		&channels, &sg.Order, &sg.Status, &signedAt, &otpVerified, &sigHash, &sigPath,
		&posPage, &posX, &posY)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &sg.AuthChannels); err != nil {
		return nil, fmt.Errorf("decode auth channels for signer %s: %w", sg.ID, err)
	}
	sg.Phone = fromNullString(phone)
	sg.Cpf = fromNullString(cpf)
	sg.Qualification = fromNullString(qual)
	sg.SignedAt = fromNullString(signedAt)
	sg.OtpVerifiedAt = fromNullString(otpVerified)
	sg.SignatureHash = fromNullString(sigHash)
	sg.SignatureArtefactPath = fromNullString(sigPath)
	if posPage.Valid {
		p := int(posPage.Int64)
		sg.SignaturePositionPage = &p
	}
	if posX.Valid {
		sg.SignaturePositionX = &posX.Float64
	}
	if posY.Valid {
		sg.SignaturePositionY = &posY.Float64
	}
	return &sg, nil
}

// InsertSigner writes a new signer row.
func (s *Store) InsertSigner(ctx context.Context, q Querier, sg *model.Signer) error {
	channels, err := json.Marshal(sg.AuthChannels)
	if err != nil {
		return fmt.Errorf("encode auth channels: %w", err)
	}
	query := `
		INSERT INTO signers (id, document_id, name, email, phone, cpf, qualification, auth_channels, sign_order, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = q.ExecContext(ctx, query,
		sg.ID, sg.DocumentID, sg.Name, sg.Email,
		nullable(sg.Phone), nullable(sg.Cpf), nullable(sg.Qualification),
		string(channels), sg.Order, sg.Status,
	)
	if err != nil {
		return fmt.Errorf("insert signer %s: %w", sg.ID, err)
	}
	return nil
}

// GetSigner fetches one signer by id.
func (s *Store) GetSigner(ctx context.Context, q Querier, id string) (*model.Signer, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+signerColumns+` FROM signers WHERE id = $1`, id)
	sg, err := scanSigner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signer %s: %w", id, err)
	}
	return sg, nil
}

// ListSignersByDocument returns a document's signers in invitation order.
func (s *Store) ListSignersByDocument(ctx context.Context, q Querier, documentID string) ([]*model.Signer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+signerColumns+` FROM signers WHERE document_id = $1 ORDER BY sign_order ASC, id ASC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Signer, 0)
	for rows.Next() {
		sg, err := scanSigner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signer: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// CountSignedSigners reports how many of a document's signers are terminal
// SIGNED, alongside the total.
func (s *Store) CountSignedSigners(ctx context.Context, q Querier, documentID string) (signed, total int, err error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM signers WHERE document_id = $1 GROUP BY status`, documentID)
	if err != nil {
		return 0, 0, fmt.Errorf("count signers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("scan signer count: %w", err)
		}
		total += n
		if model.SignerStatus(status) == model.SignerSigned {
			signed += n
		}
	}
	return signed, total, rows.Err()
}

// UpdateSignerStatus moves the signer's workflow status.
func (s *Store) UpdateSignerStatus(ctx context.Context, q Querier, id string, status model.SignerStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE signers SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update signer status: %w", err)
	}
	return requireOneRow(res, "signer", id)
}

// UpdateSignerIdentity records the identification fields a signer supplies.
func (s *Store) UpdateSignerIdentity(ctx context.Context, q Querier, id string, cpf, phone *string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE signers SET cpf = COALESCE($1, cpf), phone = COALESCE($2, phone) WHERE id = $3`,
		nullable(cpf), nullable(phone), id)
	if err != nil {
		return fmt.Errorf("update signer identity: %w", err)
	}
	return requireOneRow(res, "signer", id)
}

// UpdateSignerOtpVerified stamps the moment the signer proved an OTP.
func (s *Store) UpdateSignerOtpVerified(ctx context.Context, q Querier, id, atISO string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE signers SET otp_verified_at = $1 WHERE id = $2`, atISO, id)
	if err != nil {
		return fmt.Errorf("update signer otp verification: %w", err)
	}
	return requireOneRow(res, "signer", id)
}

// UpdateSignerPosition persists stamp coordinates.
func (s *Store) UpdateSignerPosition(ctx context.Context, q Querier, id string, page int, x, y float64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE signers SET signature_position_page = $1, signature_position_x = $2, signature_position_y = $3 WHERE id = $4`,
		page, x, y, id)
	if err != nil {
		return fmt.Errorf("update signer position: %w", err)
	}
	return requireOneRow(res, "signer", id)
}

// MarkSignerSigned writes the terminal signature fields in one statement.
func (s *Store) MarkSignerSigned(ctx context.Context, q Querier, id, signedAtISO, signatureHash, artefactPath string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE signers SET status = $1, signed_at = $2, signature_hash = $3, signature_artefact_path = $4 WHERE id = $5`,
		model.SignerSigned, signedAtISO, signatureHash, artefactPath, id)
	if err != nil {
		return fmt.Errorf("mark signer signed: %w", err)
	}
	return requireOneRow(res, "signer", id)
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
