package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"certgen-backend/internal/models"
	"certgen-backend/internal/supabase"
)

const downloadURLTTLSeconds = 24 * 60 * 60

type JobsHandler struct {
	dbClient      *supabase.DatabaseClient
	storageClient *supabase.StorageClient
}

func NewJobsHandler(dbClient *supabase.DatabaseClient, storageClient *supabase.StorageClient) *JobsHandler {
	return &JobsHandler{
		dbClient:      dbClient,
		storageClient: storageClient,
	}
}

// GetJob godoc
// @Summary     Get generation job status
// @Tags        jobs
// @Produce     json
// @Security    Bearer
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.JobResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /jobs/{job_id} [get]
func (h *JobsHandler) GetJob(c *gin.Context) {
	if h.dbClient == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	orgID, _, ok := requestIdentity(c)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid job id"})
		return
	}

	job, err := h.dbClient.GetJob(jobID, orgID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

// ListJobs godoc
// @Summary     List the caller's generation jobs
// @Tags        jobs
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.JobListResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /jobs [get]
func (h *JobsHandler) ListJobs(c *gin.Context) {
	if h.dbClient == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	orgID, userID, ok := requestIdentity(c)
	if !ok {
		return
	}

	jobs, err := h.dbClient.ListJobs(orgID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list jobs",
			Message: err.Error(),
		})
		return
	}

	resp := models.JobListResponse{Jobs: make([]models.JobResponse, 0, len(jobs))}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// ListJobCertificates godoc
// @Summary     List certificates issued by a job
// @Description Returns the job's issued certificates in recipient order with fresh signed download URLs.
// @Tags        jobs
// @Produce     json
// @Security    Bearer
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.CertificateListResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /jobs/{job_id}/certificates [get]
func (h *JobsHandler) ListJobCertificates(c *gin.Context) {
	if h.dbClient == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	orgID, _, ok := requestIdentity(c)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid job id"})
		return
	}

	if _, err := h.dbClient.GetJob(jobID, orgID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
		return
	}

	certs, err := h.dbClient.ListJobCertificates(jobID, orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list certificates",
			Message: err.Error(),
		})
		return
	}

	resp := models.CertificateListResponse{Certificates: make([]models.CertificateResult, 0, len(certs))}
	for i := range certs {
		resp.Certificates = append(resp.Certificates, h.certificateResult(&certs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobsHandler) certificateResult(cert *models.IssuedCertificate) models.CertificateResult {
	result := models.CertificateResult{
		ID:                cert.ID.String(),
		CertificateNumber: cert.CertificateNumber,
		IssuedAt:          cert.IssuedAt,
	}
	if cert.ExpiresAt.Valid {
		t := cert.ExpiresAt.Time
		result.ExpiresAt = &t
	}

	if rec, err := h.dbClient.GetRecipient(cert.RecipientID); err == nil {
		result.RecipientName = rec.Name
		if rec.Email.Valid {
			result.RecipientEmail = rec.Email.String
		}
		if rec.Phone.Valid {
			result.RecipientPhone = rec.Phone.String
		}
	}

	if h.storageClient != nil {
		if artifact, err := h.dbClient.GetArtifact(cert.ArtifactID); err == nil {
			url, err := h.storageClient.SignedURL(artifact.StoragePath, downloadURLTTLSeconds)
			if err != nil {
				log.Printf("Failed to sign download url for certificate %s: %v", cert.ID, err)
			} else {
				result.DownloadURL = url
			}
		}
		if cert.PreviewArtifactID.Valid {
			if artifact, err := h.dbClient.GetArtifact(cert.PreviewArtifactID.UUID); err == nil {
				if url, err := h.storageClient.SignedURL(artifact.StoragePath, downloadURLTTLSeconds); err == nil {
					result.PreviewURL = url
				}
			}
		}
	}

	return result
}

func jobResponse(job *models.GenerationJob) models.JobResponse {
	resp := models.JobResponse{
		JobID:     job.ID.String(),
		Status:    job.Status,
		TotalRows: job.TotalRows,
		CreatedAt: job.CreatedAt,
	}
	if job.CompletedAt.Valid {
		t := job.CompletedAt.Time
		resp.CompletedAt = &t
	}
	if len(job.Errors) > 0 {
		if err := json.Unmarshal(job.Errors, &resp.Errors); err != nil {
			log.Printf("Job %s: failed to decode stored errors: %v", job.ID, err)
		}
	}
	return resp
}
