package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"certgen-backend/internal/models"
	"certgen-backend/internal/services"
	"certgen-backend/internal/supabase"
)

// VerifyHandler serves the public certificate verification endpoint the
// QR codes point at. No auth: the token itself is the credential.
type VerifyHandler struct {
	dbClient *supabase.DatabaseClient
}

func NewVerifyHandler(dbClient *supabase.DatabaseClient) *VerifyHandler {
	return &VerifyHandler{dbClient: dbClient}
}

// Verify godoc
// @Summary     Verify a certificate by its token
// @Description Looks up the certificate behind a verification token. Unknown tokens return valid=false rather than an error.
// @Tags        verification
// @Produce     json
// @Param       token path string true "Verification token"
// @Success     200 {object} models.VerifyResponse
// @Router      /verify/{token} [get]
func (h *VerifyHandler) Verify(c *gin.Context) {
	if h.dbClient == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database not available"})
		return
	}

	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusOK, models.VerifyResponse{Valid: false})
		return
	}

	cert, err := h.dbClient.GetCertificateByTokenHash(services.HashToken(token))
	if err != nil {
		// Unknown token; do not leak whether it was close to a real one.
		c.JSON(http.StatusOK, models.VerifyResponse{Valid: false})
		return
	}

	status := cert.Status
	if status == models.CertStatusIssued && cert.ExpiresAt.Valid && cert.ExpiresAt.Time.Before(time.Now()) {
		status = models.CertStatusExpired
	}

	resp := models.VerifyResponse{
		Valid:             status == models.CertStatusIssued,
		CertificateNumber: cert.CertificateNumber,
		Status:            status,
	}
	issuedAt := cert.IssuedAt
	resp.IssuedAt = &issuedAt
	if cert.ExpiresAt.Valid {
		t := cert.ExpiresAt.Time
		resp.ExpiresAt = &t
	}

	c.JSON(http.StatusOK, resp)
}
