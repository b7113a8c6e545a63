package services

import (
	"context"

	"github.com/google/uuid"

	"certgen-backend/internal/models"
)

// Store is the persistence surface the pipeline needs. Implemented by
// supabase.DatabaseClient; faked in tests.
type Store interface {
	GetLatestVersion(templateID, orgID uuid.UUID) (*models.TemplateVersion, *models.Artifact, []models.Field, error)
	GetVersion(versionID uuid.UUID) (*models.TemplateVersion, error)
	GetArtifact(artifactID uuid.UUID) (*models.Artifact, error)
	CreateArtifact(artifact *models.Artifact) error
	DeleteArtifact(artifactID uuid.UUID) error

	CreateJob(job *models.GenerationJob) error
	FinishJob(jobID uuid.UUID, status string, itemErrors []models.ItemError, errMsg string) error

	CreateRecipient(rec *models.RecipientRecord) error

	NextCertificateNumber(orgID uuid.UUID) (string, error)
	CreateCertificate(cert *models.IssuedCertificate) error
	DeleteCertificate(certID uuid.UUID) error
	SetCertificatePreview(certID, artifactID uuid.UUID) error

	SetVersionPreview(versionID, artifactID uuid.UUID) (bool, error)
}

// BlobStore is the binary storage surface. Implemented by
// supabase.StorageClient.
type BlobStore interface {
	Download(path string) ([]byte, error)
	Upload(path string, data []byte, contentType string) error
	SignedURL(path string, ttlSeconds int) (string, error)
	Delete(path string) error
}

// EventPublisher pushes job lifecycle events to subscribers. Implemented
// by supabase.RealtimeClient.
type EventPublisher interface {
	PublishJobEvent(jobID uuid.UUID, event string, payload map[string]interface{}) error
}

// PreviewRenderer produces a reduced raster representation of a rendered
// document or source file.
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, data []byte, mimeType string) ([]byte, string, string, error)
}
