package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	CertStatusIssued  = "issued"
	CertStatusRevoked = "revoked"
	CertStatusExpired = "expired"
)

type GenerationJob struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	UserID       uuid.UUID
	TemplateID   uuid.UUID
	VersionID    uuid.UUID
	Status       string
	Options      json.RawMessage
	Errors       json.RawMessage
	ErrorMessage sql.NullString
	TotalRows    int
	CreatedAt    time.Time
	CompletedAt  sql.NullTime
}

// RecipientRecord keeps the full raw row for audit and regeneration plus
// the best-effort extracted identity columns.
type RecipientRecord struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	RowIndex  int
	Name      string
	Email     sql.NullString
	Phone     sql.NullString
	RawRow    json.RawMessage
	CreatedAt time.Time
}

type IssuedCertificate struct {
	ID                uuid.UUID
	OrgID             uuid.UUID
	JobID             uuid.UUID
	RecipientID       uuid.UUID
	TemplateID        uuid.UUID
	VersionID         uuid.UUID
	CertificateNumber string
	TokenHash         string
	Status            string
	IssuedAt          time.Time
	ExpiresAt         sql.NullTime
	ArtifactID        uuid.UUID
	PreviewArtifactID uuid.NullUUID
	CreatedAt         time.Time
}
