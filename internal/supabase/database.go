package supabase

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"certgen-backend/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// GetLatestVersion resolves a template's current version together with its
// source file artifact and fields. Fields come back in creation order.
func (d *DatabaseClient) GetLatestVersion(templateID, orgID uuid.UUID) (*models.TemplateVersion, *models.Artifact, []models.Field, error) {
	var version models.TemplateVersion
	err := d.db.QueryRow(`
		SELECT v.id, v.template_id, v.version_number, v.source_file_id, v.page_count, v.page_metadata, v.preview_artifact_id, v.created_at
		FROM template_versions v
		JOIN templates t ON t.latest_version_id = v.id
		WHERE t.id = $1 AND t.org_id = $2 AND t.is_deleted = false
	`, templateID, orgID).Scan(
		&version.ID, &version.TemplateID, &version.VersionNumber, &version.SourceFileID,
		&version.PageCount, &version.PageMetadata, &version.PreviewArtifactID, &version.CreatedAt,
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	sourceFile, err := d.GetArtifact(version.SourceFileID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get source file: %w", err)
	}

	rows, err := d.db.Query(`
		SELECT id, version_id, key, label, type, page_number, x, y, width, height, style, required, created_at
		FROM fields
		WHERE version_id = $1
		ORDER BY created_at ASC
	`, version.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get fields: %w", err)
	}
	defer rows.Close()

	var fields []models.Field
	for rows.Next() {
		var field models.Field
		err := rows.Scan(
			&field.ID, &field.VersionID, &field.Key, &field.Label, &field.Type,
			&field.PageNumber, &field.X, &field.Y, &field.Width, &field.Height,
			&field.Style, &field.Required, &field.CreatedAt,
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan field: %w", err)
		}
		fields = append(fields, field)
	}

	return &version, sourceFile, fields, nil
}

func (d *DatabaseClient) GetArtifact(artifactID uuid.UUID) (*models.Artifact, error) {
	var artifact models.Artifact
	err := d.db.QueryRow(`
		SELECT id, org_id, storage_path, mime_type, file_size, checksum, created_at
		FROM artifacts
		WHERE id = $1
	`, artifactID).Scan(
		&artifact.ID, &artifact.OrgID, &artifact.StoragePath,
		&artifact.MimeType, &artifact.FileSize, &artifact.Checksum, &artifact.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

func (d *DatabaseClient) CreateArtifact(artifact *models.Artifact) error {
	_, err := d.db.Exec(`
		INSERT INTO artifacts (id, org_id, storage_path, mime_type, file_size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, artifact.ID, artifact.OrgID, artifact.StoragePath, artifact.MimeType, artifact.FileSize, artifact.Checksum)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

func (d *DatabaseClient) DeleteArtifact(artifactID uuid.UUID) error {
	_, err := d.db.Exec(`DELETE FROM artifacts WHERE id = $1`, artifactID)
	return err
}

func (d *DatabaseClient) CreateJob(job *models.GenerationJob) error {
	_, err := d.db.Exec(`
		INSERT INTO generation_jobs (id, org_id, user_id, template_id, version_id, status, options, total_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, job.OrgID, job.UserID, job.TemplateID, job.VersionID, job.Status, job.Options, job.TotalRows)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetJob(jobID, orgID uuid.UUID) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := d.db.QueryRow(`
		SELECT id, org_id, user_id, template_id, version_id, status, options, errors, error_message, total_rows, created_at, completed_at
		FROM generation_jobs
		WHERE id = $1 AND org_id = $2
	`, jobID, orgID).Scan(
		&job.ID, &job.OrgID, &job.UserID, &job.TemplateID, &job.VersionID,
		&job.Status, &job.Options, &job.Errors, &job.ErrorMessage,
		&job.TotalRows, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (d *DatabaseClient) ListJobs(orgID, userID uuid.UUID) ([]models.GenerationJob, error) {
	rows, err := d.db.Query(`
		SELECT id, org_id, user_id, template_id, version_id, status, options, errors, error_message, total_rows, created_at, completed_at
		FROM generation_jobs
		WHERE org_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		var job models.GenerationJob
		err := rows.Scan(
			&job.ID, &job.OrgID, &job.UserID, &job.TemplateID, &job.VersionID,
			&job.Status, &job.Options, &job.Errors, &job.ErrorMessage,
			&job.TotalRows, &job.CreatedAt, &job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// FinishJob moves a job to a terminal status, stamps completed_at and
// attaches the per-item error list.
func (d *DatabaseClient) FinishJob(jobID uuid.UUID, status string, itemErrors []models.ItemError, errMsg string) error {
	errorsJSON, err := json.Marshal(itemErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal item errors: %w", err)
	}

	var message sql.NullString
	if errMsg != "" {
		message = sql.NullString{String: errMsg, Valid: true}
	}

	_, err = d.db.Exec(`
		UPDATE generation_jobs
		SET status = $1, errors = $2, error_message = $3, completed_at = NOW()
		WHERE id = $4
	`, status, errorsJSON, message, jobID)
	return err
}

func (d *DatabaseClient) CreateRecipient(rec *models.RecipientRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO recipient_records (id, job_id, row_index, name, email, phone, raw_row)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.JobID, rec.RowIndex, rec.Name, rec.Email, rec.Phone, rec.RawRow)
	if err != nil {
		return fmt.Errorf("failed to create recipient record: %w", err)
	}
	return nil
}

// NextCertificateNumber increments the tenant-scoped counter in a single
// atomic upsert so concurrent batches never see duplicate numbers.
func (d *DatabaseClient) NextCertificateNumber(orgID uuid.UUID) (string, error) {
	var n int64
	err := d.db.QueryRow(`
		INSERT INTO certificate_counters (org_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (org_id)
		DO UPDATE SET last_number = certificate_counters.last_number + 1
		RETURNING last_number
	`, orgID).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to get next certificate number: %w", err)
	}
	return fmt.Sprintf("CERT-%06d", n), nil
}

func (d *DatabaseClient) CreateCertificate(cert *models.IssuedCertificate) error {
	_, err := d.db.Exec(`
		INSERT INTO issued_certificates
			(id, org_id, job_id, recipient_id, template_id, version_id, certificate_number, token_hash, status, issued_at, expires_at, artifact_id, preview_artifact_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, cert.ID, cert.OrgID, cert.JobID, cert.RecipientID, cert.TemplateID, cert.VersionID,
		cert.CertificateNumber, cert.TokenHash, cert.Status, cert.IssuedAt, cert.ExpiresAt,
		cert.ArtifactID, cert.PreviewArtifactID)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	return nil
}

func (d *DatabaseClient) DeleteCertificate(certID uuid.UUID) error {
	_, err := d.db.Exec(`DELETE FROM issued_certificates WHERE id = $1`, certID)
	return err
}

func (d *DatabaseClient) SetCertificatePreview(certID, artifactID uuid.UUID) error {
	_, err := d.db.Exec(`
		UPDATE issued_certificates
		SET preview_artifact_id = $1
		WHERE id = $2
	`, artifactID, certID)
	return err
}

func (d *DatabaseClient) GetCertificateByTokenHash(tokenHash string) (*models.IssuedCertificate, error) {
	var cert models.IssuedCertificate
	err := d.db.QueryRow(`
		SELECT id, org_id, job_id, recipient_id, template_id, version_id, certificate_number, token_hash, status, issued_at, expires_at, artifact_id, preview_artifact_id, created_at
		FROM issued_certificates
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&cert.ID, &cert.OrgID, &cert.JobID, &cert.RecipientID, &cert.TemplateID, &cert.VersionID,
		&cert.CertificateNumber, &cert.TokenHash, &cert.Status, &cert.IssuedAt, &cert.ExpiresAt,
		&cert.ArtifactID, &cert.PreviewArtifactID, &cert.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return &cert, nil
}

func (d *DatabaseClient) ListJobCertificates(jobID, orgID uuid.UUID) ([]models.IssuedCertificate, error) {
	rows, err := d.db.Query(`
		SELECT c.id, c.org_id, c.job_id, c.recipient_id, c.template_id, c.version_id, c.certificate_number, c.token_hash, c.status, c.issued_at, c.expires_at, c.artifact_id, c.preview_artifact_id, c.created_at
		FROM issued_certificates c
		JOIN recipient_records r ON r.id = c.recipient_id
		WHERE c.job_id = $1 AND c.org_id = $2
		ORDER BY r.row_index ASC
	`, jobID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var certs []models.IssuedCertificate
	for rows.Next() {
		var cert models.IssuedCertificate
		err := rows.Scan(
			&cert.ID, &cert.OrgID, &cert.JobID, &cert.RecipientID, &cert.TemplateID, &cert.VersionID,
			&cert.CertificateNumber, &cert.TokenHash, &cert.Status, &cert.IssuedAt, &cert.ExpiresAt,
			&cert.ArtifactID, &cert.PreviewArtifactID, &cert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	return certs, nil
}

func (d *DatabaseClient) GetRecipient(recipientID uuid.UUID) (*models.RecipientRecord, error) {
	var rec models.RecipientRecord
	err := d.db.QueryRow(`
		SELECT id, job_id, row_index, name, email, phone, raw_row, created_at
		FROM recipient_records
		WHERE id = $1
	`, recipientID).Scan(
		&rec.ID, &rec.JobID, &rec.RowIndex, &rec.Name, &rec.Email, &rec.Phone, &rec.RawRow, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return &rec, nil
}

// SetVersionPreview attaches a preview artifact to a version, but only if
// the version does not already have one. Returns whether the update won.
func (d *DatabaseClient) SetVersionPreview(versionID, artifactID uuid.UUID) (bool, error) {
	result, err := d.db.Exec(`
		UPDATE template_versions
		SET preview_artifact_id = $1
		WHERE id = $2 AND preview_artifact_id IS NULL
	`, artifactID, versionID)
	if err != nil {
		return false, fmt.Errorf("failed to set version preview: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (d *DatabaseClient) GetVersion(versionID uuid.UUID) (*models.TemplateVersion, error) {
	var version models.TemplateVersion
	err := d.db.QueryRow(`
		SELECT id, template_id, version_number, source_file_id, page_count, page_metadata, preview_artifact_id, created_at
		FROM template_versions
		WHERE id = $1
	`, versionID).Scan(
		&version.ID, &version.TemplateID, &version.VersionNumber, &version.SourceFileID,
		&version.PageCount, &version.PageMetadata, &version.PreviewArtifactID, &version.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &version, nil
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}
