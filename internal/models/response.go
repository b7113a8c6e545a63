package models

import "time"

type GenerationResponse struct {
	JobID             string              `json:"job_id"`
	Status            string              `json:"status"`
	TotalCertificates int                 `json:"total_certificates"`
	Certificates      []CertificateResult `json:"certificates,omitempty"`
	ZipDownloadURL    string              `json:"zip_download_url,omitempty"`
	Errors            []ItemError         `json:"errors,omitempty"`
}

type CertificateResult struct {
	ID                string     `json:"id"`
	CertificateNumber string     `json:"certificate_number"`
	RecipientName     string     `json:"recipient_name"`
	RecipientEmail    string     `json:"recipient_email,omitempty"`
	RecipientPhone    string     `json:"recipient_phone,omitempty"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	DownloadURL       string     `json:"download_url,omitempty"`
	PreviewURL        string     `json:"preview_url,omitempty"`
}

// ItemError records one recipient's failure without aborting the batch.
// Index is the position in the original recipients array.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type JobResponse struct {
	JobID       string      `json:"job_id"`
	Status      string      `json:"status"`
	TotalRows   int         `json:"total_rows"`
	Errors      []ItemError `json:"errors,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CertificateListResponse struct {
	Certificates []CertificateResult `json:"certificates"`
}

type PreviewResponse struct {
	VersionID  string `json:"version_id"`
	ArtifactID string `json:"artifact_id"`
	PreviewURL string `json:"preview_url"`
}

type VerifyResponse struct {
	Valid             bool       `json:"valid"`
	CertificateNumber string     `json:"certificate_number,omitempty"`
	Status            string     `json:"status,omitempty"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
