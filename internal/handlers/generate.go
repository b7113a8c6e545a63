package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"certgen-backend/internal/models"
	"certgen-backend/internal/services"
)

type GenerateHandler struct {
	generationService *services.GenerationService
}

func NewGenerateHandler(generationService *services.GenerationService) *GenerateHandler {
	return &GenerateHandler{generationService: generationService}
}

// Generate godoc
// @Summary     Generate certificates for a batch of recipients
// @Description Renders one certificate per recipient from the template's latest version. Batches over 50 recipients are queued and return immediately with a job id.
// @Tags        generation
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       template_id path string true "Template ID"
// @Param       request body models.GenerateRequest true "Recipients, field mapping and options"
// @Success     200 {object} models.GenerationResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /templates/{template_id}/generate [post]
func (h *GenerateHandler) Generate(c *gin.Context) {
	if h.generationService == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "generation service not available"})
		return
	}

	orgID, userID, ok := requestIdentity(c)
	if !ok {
		return
	}

	templateID, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid template id"})
		return
	}

	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.generationService.Generate(c.Request.Context(), services.GenerateInput{
		OrgID:        orgID,
		UserID:       userID,
		TemplateID:   templateID,
		Recipients:   req.Recipients,
		FieldMapping: req.FieldMapping,
		Options:      req.Options,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Message: err.Error()})
	}
}
