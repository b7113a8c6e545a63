package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"certgen-backend/internal/expiry"
	"certgen-backend/internal/models"
	"certgen-backend/internal/render"
)

const (
	// SyncBatchCap is the backpressure boundary: bigger batches are only
	// queued, never rendered synchronously.
	SyncBatchCap = 50

	// bundleURLThreshold: the zip download URL is only surfaced when more
	// certificates than this were issued; small batches fetch individual
	// artifacts.
	bundleURLThreshold = 10

	signedURLTTLSeconds = 24 * 60 * 60
)

type GenerationService struct {
	store        Store
	blobs        BlobStore
	events       EventPublisher
	previews     PreviewRenderer
	appBaseURL   string
	batchTimeout time.Duration
}

func NewGenerationService(store Store, blobs BlobStore, events EventPublisher, previews PreviewRenderer, appBaseURL string, batchTimeout time.Duration) *GenerationService {
	return &GenerationService{
		store:        store,
		blobs:        blobs,
		events:       events,
		previews:     previews,
		appBaseURL:   appBaseURL,
		batchTimeout: batchTimeout,
	}
}

type GenerateInput struct {
	OrgID        uuid.UUID
	UserID       uuid.UUID
	TemplateID   uuid.UUID
	Recipients   []map[string]string
	FieldMapping map[string]string
	Options      models.GenerateOptions
}

// batchState carries everything resolved up front that the per-item loop
// needs.
type batchState struct {
	in           GenerateInput
	jobID        uuid.UUID
	version      *models.TemplateVersion
	fields       []models.Field
	source       []byte
	format       render.Format
	issuedAt     time.Time
	customExpiry *time.Time
	zipWriter    *zip.Writer
	recipientIDs []uuid.UUID
}

// Generate runs one batch end to end. Validation and lookup failures
// return before any job record exists; per-item render failures are
// recorded and skipped; only pipeline-level failures move the job to
// failed. The returned response always has a job id and terminal status.
func (s *GenerationService) Generate(ctx context.Context, in GenerateInput) (*models.GenerationResponse, error) {
	if len(in.Recipients) == 0 {
		return nil, validationErrorf("recipients list is empty")
	}

	issuedAt, customExpiry, err := parseOptionDates(in.Options)
	if err != nil {
		return nil, err
	}

	version, sourceFile, fields, err := s.store.GetLatestVersion(in.TemplateID, in.OrgID)
	if err != nil {
		return nil, &NotFoundError{Resource: "template version", Err: err}
	}

	if err := validateFields(fields, version.PageCount); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot options: %w", err)
	}

	jobID := uuid.New()

	// Backpressure boundary: oversized batches are queued, not rendered.
	if len(in.Recipients) > SyncBatchCap {
		job := &models.GenerationJob{
			ID:         jobID,
			OrgID:      in.OrgID,
			UserID:     in.UserID,
			TemplateID: in.TemplateID,
			VersionID:  version.ID,
			Status:     models.JobStatusQueued,
			Options:    optionsJSON,
			TotalRows:  len(in.Recipients),
		}
		if err := s.store.CreateJob(job); err != nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		s.publish(jobID, "generation_queued", len(in.Recipients), 0, 0)
		return &models.GenerationResponse{
			JobID:  jobID.String(),
			Status: models.JobStatusQueued,
		}, nil
	}

	source, err := s.blobs.Download(sourceFile.StoragePath)
	if err != nil {
		return nil, &NotFoundError{Resource: "source file", Err: err}
	}

	job := &models.GenerationJob{
		ID:         jobID,
		OrgID:      in.OrgID,
		UserID:     in.UserID,
		TemplateID: in.TemplateID,
		VersionID:  version.ID,
		Status:     models.JobStatusRunning,
		Options:    optionsJSON,
		TotalRows:  len(in.Recipients),
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.publish(jobID, "generation_started", len(in.Recipients), 0, 0)

	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	var zipBuf bytes.Buffer
	state := &batchState{
		in:           in,
		jobID:        jobID,
		version:      version,
		fields:       fields,
		source:       source,
		format:       render.FormatForSource(sourceFile.MimeType),
		issuedAt:     issuedAt,
		customExpiry: customExpiry,
		zipWriter:    zip.NewWriter(&zipBuf),
	}

	if err := s.persistRecipients(state); err != nil {
		s.failJob(jobID, nil, err.Error())
		return s.failedResponse(jobID, nil, nil), nil
	}

	var (
		results    []models.CertificateResult
		itemErrors []models.ItemError
	)

	for i, row := range in.Recipients {
		// Whole-batch deadline; certificates issued before the timeout
		// stay issued.
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.failJob(jobID, itemErrors, fmt.Sprintf("batch deadline exceeded after %d of %d recipients: %v", i, len(in.Recipients), ctxErr))
			return s.failedResponse(jobID, results, itemErrors), nil
		}

		result, itemErr := s.processItem(ctx, state, i, row)
		if itemErr != nil {
			log.Printf("Job %s: recipient %d failed: %v", jobID, i, itemErr)
			itemErrors = append(itemErrors, models.ItemError{Index: i, Error: itemErr.Error()})
			continue
		}
		results = append(results, *result)
	}

	if err := state.zipWriter.Close(); err != nil {
		s.failJob(jobID, itemErrors, fmt.Sprintf("failed to finalize bundle: %v", err))
		return s.failedResponse(jobID, results, itemErrors), nil
	}

	zipURL := ""
	if len(results) > 0 {
		bundlePath := fmt.Sprintf("orgs/%s/jobs/%s/certificates.zip", in.OrgID, jobID)
		if err := s.blobs.Upload(bundlePath, zipBuf.Bytes(), "application/zip"); err != nil {
			// Bundle upload failure is a pipeline error: the job fails but
			// the certificates already issued are not rolled back.
			s.failJob(jobID, itemErrors, fmt.Sprintf("failed to upload bundle: %v", err))
			return s.failedResponse(jobID, results, itemErrors), nil
		}
		if len(results) > bundleURLThreshold {
			url, err := s.blobs.SignedURL(bundlePath, signedURLTTLSeconds)
			if err != nil {
				log.Printf("Job %s: failed to sign bundle url: %v", jobID, err)
			} else {
				zipURL = url
			}
		}
	}

	if err := s.store.FinishJob(jobID, models.JobStatusCompleted, itemErrors, ""); err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	s.publish(jobID, "generation_completed", len(in.Recipients), len(results), len(itemErrors))

	return &models.GenerationResponse{
		JobID:             jobID.String(),
		Status:            models.JobStatusCompleted,
		TotalCertificates: len(results),
		Certificates:      results,
		ZipDownloadURL:    zipURL,
		Errors:            itemErrors,
	}, nil
}

// processItem renders and persists one recipient's certificate. Any
// partially-created state is compensated in reverse order on failure, so
// no issued certificate row can outlive a missing artifact.
func (s *GenerationService) processItem(ctx context.Context, state *batchState, index int, row map[string]string) (*models.CertificateResult, error) {
	var rollback []func()
	fail := func(err error) (*models.CertificateResult, error) {
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
		return nil, err
	}

	name, email, phone := extractIdentity(row)

	built, err := buildArtifact(buildInput{
		Source:        state.source,
		Format:        state.format,
		PageCount:     state.version.PageCount,
		Fields:        state.fields,
		Mapping:       state.in.FieldMapping,
		Row:           row,
		IncludeQR:     state.in.Options.IncludeQR,
		VerifyBaseURL: s.appBaseURL,
		DisplayName:   name,
	})
	if err != nil {
		return fail(err)
	}

	certNumber, err := s.store.NextCertificateNumber(state.in.OrgID)
	if err != nil {
		return fail(fmt.Errorf("failed to allocate certificate number: %w", err))
	}

	artifactPath := fmt.Sprintf("orgs/%s/jobs/%s/%03d_%s.%s", state.in.OrgID, state.jobID, index+1, built.Filename, built.Extension)
	if err := s.blobs.Upload(artifactPath, built.Bytes, built.MimeType); err != nil {
		return fail(fmt.Errorf("failed to upload artifact: %w", err))
	}
	rollback = append(rollback, func() {
		if err := s.blobs.Delete(artifactPath); err != nil {
			log.Printf("Job %s: rollback failed to delete blob %s: %v", state.jobID, artifactPath, err)
		}
	})

	artifact := &models.Artifact{
		ID:          uuid.New(),
		OrgID:       state.in.OrgID,
		StoragePath: artifactPath,
		MimeType:    built.MimeType,
		FileSize:    int64(len(built.Bytes)),
		Checksum:    built.Checksum,
	}
	if err := s.store.CreateArtifact(artifact); err != nil {
		return fail(fmt.Errorf("failed to register artifact: %w", err))
	}
	rollback = append(rollback, func() {
		if err := s.store.DeleteArtifact(artifact.ID); err != nil {
			log.Printf("Job %s: rollback failed to delete artifact row %s: %v", state.jobID, artifact.ID, err)
		}
	})

	expiresAt := expiry.Compute(state.in.Options.ExpiryType, state.issuedAt, state.customExpiry, row)

	cert := &models.IssuedCertificate{
		ID:                uuid.New(),
		OrgID:             state.in.OrgID,
		JobID:             state.jobID,
		RecipientID:       state.recipientIDs[index],
		TemplateID:        state.in.TemplateID,
		VersionID:         state.version.ID,
		CertificateNumber: certNumber,
		TokenHash:         built.TokenHash,
		Status:            models.CertStatusIssued,
		IssuedAt:          state.issuedAt,
	}
	if expiresAt != nil {
		cert.ExpiresAt.Time = *expiresAt
		cert.ExpiresAt.Valid = true
	}
	cert.ArtifactID = artifact.ID
	if err := s.store.CreateCertificate(cert); err != nil {
		return fail(fmt.Errorf("failed to persist certificate: %w", err))
	}
	rollback = append(rollback, func() {
		if err := s.store.DeleteCertificate(cert.ID); err != nil {
			log.Printf("Job %s: rollback failed to delete certificate %s: %v", state.jobID, cert.ID, err)
		}
	})

	// Per-certificate preview is best-effort; the certificate stands
	// without one.
	previewURL := s.attachPreview(ctx, state, cert, built)

	entryName := fmt.Sprintf("%03d_%s.%s", index+1, built.Filename, built.Extension)
	entry, err := state.zipWriter.Create(entryName)
	if err != nil {
		return fail(fmt.Errorf("failed to add bundle entry: %w", err))
	}
	if _, err := entry.Write(built.Bytes); err != nil {
		return fail(fmt.Errorf("failed to write bundle entry: %w", err))
	}

	downloadURL, err := s.blobs.SignedURL(artifactPath, signedURLTTLSeconds)
	if err != nil {
		log.Printf("Job %s: failed to sign download url for %s: %v", state.jobID, artifactPath, err)
	}

	result := &models.CertificateResult{
		ID:                cert.ID.String(),
		CertificateNumber: certNumber,
		RecipientName:     name,
		IssuedAt:          state.issuedAt,
		ExpiresAt:         expiresAt,
		DownloadURL:       downloadURL,
		PreviewURL:        previewURL,
	}
	if email.Valid {
		result.RecipientEmail = email.String
	}
	if phone.Valid {
		result.RecipientPhone = phone.String
	}
	return result, nil
}

// attachPreview renders, uploads and registers a reduced preview for one
// certificate. Every failure is logged and swallowed.
func (s *GenerationService) attachPreview(ctx context.Context, state *batchState, cert *models.IssuedCertificate, built *builtArtifact) string {
	if s.previews == nil {
		return ""
	}

	data, mimeType, ext, err := s.previews.RenderPreview(ctx, built.Bytes, built.MimeType)
	if err != nil {
		log.Printf("Job %s: preview render failed for certificate %s: %v", state.jobID, cert.ID, err)
		return ""
	}

	path := fmt.Sprintf("orgs/%s/jobs/%s/previews/%s.%s", state.in.OrgID, state.jobID, cert.ID, ext)
	if err := s.blobs.Upload(path, data, mimeType); err != nil {
		log.Printf("Job %s: preview upload failed for certificate %s: %v", state.jobID, cert.ID, err)
		return ""
	}

	artifact := &models.Artifact{
		ID:          uuid.New(),
		OrgID:       state.in.OrgID,
		StoragePath: path,
		MimeType:    mimeType,
		FileSize:    int64(len(data)),
		Checksum:    checksumSHA256(data),
	}
	if err := s.store.CreateArtifact(artifact); err != nil {
		log.Printf("Job %s: preview registration failed for certificate %s: %v", state.jobID, cert.ID, err)
		if delErr := s.blobs.Delete(path); delErr != nil {
			log.Printf("Job %s: failed to remove orphaned preview %s: %v", state.jobID, path, delErr)
		}
		return ""
	}
	if err := s.store.SetCertificatePreview(cert.ID, artifact.ID); err != nil {
		log.Printf("Job %s: failed to link preview for certificate %s: %v", state.jobID, cert.ID, err)
		return ""
	}

	url, err := s.blobs.SignedURL(path, signedURLTTLSeconds)
	if err != nil {
		return ""
	}
	return url
}

func (s *GenerationService) persistRecipients(state *batchState) error {
	state.recipientIDs = make([]uuid.UUID, len(state.in.Recipients))
	for i, row := range state.in.Recipients {
		name, email, phone := extractIdentity(row)
		rawRow, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		rec := &models.RecipientRecord{
			ID:       uuid.New(),
			JobID:    state.jobID,
			RowIndex: i,
			Name:     name,
			Email:    email,
			Phone:    phone,
			RawRow:   rawRow,
		}
		if err := s.store.CreateRecipient(rec); err != nil {
			return fmt.Errorf("failed to persist recipient %d: %w", i, err)
		}
		state.recipientIDs[i] = rec.ID
	}
	return nil
}

func (s *GenerationService) failJob(jobID uuid.UUID, itemErrors []models.ItemError, msg string) {
	if err := s.store.FinishJob(jobID, models.JobStatusFailed, itemErrors, msg); err != nil {
		log.Printf("Job %s: failed to record failure: %v", jobID, err)
	}
	if s.events != nil {
		s.events.PublishJobEvent(jobID, "generation_failed", map[string]interface{}{
			"job_id": jobID.String(),
			"status": models.JobStatusFailed,
			"error":  msg,
		})
	}
}

func (s *GenerationService) failedResponse(jobID uuid.UUID, results []models.CertificateResult, itemErrors []models.ItemError) *models.GenerationResponse {
	return &models.GenerationResponse{
		JobID:             jobID.String(),
		Status:            models.JobStatusFailed,
		TotalCertificates: len(results),
		Certificates:      results,
		Errors:            itemErrors,
	}
}

func (s *GenerationService) publish(jobID uuid.UUID, event string, total, issued, failed int) {
	if s.events == nil {
		return
	}
	payload := map[string]interface{}{
		"job_id":     jobID.String(),
		"total_rows": total,
		"issued":     issued,
		"failed":     failed,
	}
	if err := s.events.PublishJobEvent(jobID, event, payload); err != nil {
		log.Printf("Job %s: failed to publish %s: %v", jobID, event, err)
	}
}

// validateFields rejects structurally invalid field sets before any
// rendering or storage write.
func validateFields(fields []models.Field, pageCount int) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.PageNumber < 1 || f.PageNumber > pageCount {
			return validationErrorf("field %q targets page %d, version has %d page(s)", f.Key, f.PageNumber, pageCount)
		}
		if seen[f.Key] {
			return validationErrorf("duplicate field key %q", f.Key)
		}
		seen[f.Key] = true
		style, err := models.ParseStyle(f.Style)
		if err != nil {
			return validationErrorf("field %q has invalid style: %v", f.Key, err)
		}
		if err := render.ValidateAlign(style.TextAlign); err != nil {
			return validationErrorf("field %q: %v", f.Key, err)
		}
	}
	return nil
}

func parseOptionDates(opts models.GenerateOptions) (time.Time, *time.Time, error) {
	issuedAt := time.Now().UTC()
	if opts.IssueDate != "" {
		t, ok := expiry.ParseDate(opts.IssueDate)
		if !ok {
			return time.Time{}, nil, validationErrorf("unparseable issue_date %q", opts.IssueDate)
		}
		issuedAt = t
	}

	var customExpiry *time.Time
	if opts.ExpiryType == expiry.TypeCustom {
		if opts.CustomExpiryDate == "" {
			return time.Time{}, nil, validationErrorf("expiry_type custom requires custom_expiry_date")
		}
		t, ok := expiry.ParseDate(opts.CustomExpiryDate)
		if !ok {
			return time.Time{}, nil, validationErrorf("unparseable custom_expiry_date %q", opts.CustomExpiryDate)
		}
		customExpiry = &t
	}

	return issuedAt, customExpiry, nil
}
