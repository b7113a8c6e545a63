package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"certgen-backend/internal/models"
	"certgen-backend/internal/services"
)

type PreviewHandler struct {
	previewService *services.PreviewService
}

func NewPreviewHandler(previewService *services.PreviewService) *PreviewHandler {
	return &PreviewHandler{previewService: previewService}
}

// Preview godoc
// @Summary     Get or create the template version preview
// @Description Returns a signed URL for a reduced raster preview of the template's latest version, rendering it on first call.
// @Tags        templates
// @Produce     json
// @Security    Bearer
// @Param       template_id path string true "Template ID"
// @Success     200 {object} models.PreviewResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /templates/{template_id}/preview [post]
func (h *PreviewHandler) Preview(c *gin.Context) {
	if h.previewService == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "preview service not available"})
		return
	}

	orgID, _, ok := requestIdentity(c)
	if !ok {
		return
	}

	templateID, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid template id"})
		return
	}

	resp, err := h.previewService.EnsurePreview(c.Request.Context(), templateID, orgID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
