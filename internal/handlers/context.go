package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"certgen-backend/internal/middleware"
	"certgen-backend/internal/models"
)

// requestIdentity pulls the authenticated org and user ids out of the gin
// context. On failure it writes the error response and returns ok=false.
func requestIdentity(c *gin.Context) (orgID, userID uuid.UUID, ok bool) {
	userIDStr, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return uuid.Nil, uuid.Nil, false
	}

	orgIDStr, exists := c.Get(middleware.OrgIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "org id not found"})
		return uuid.Nil, uuid.Nil, false
	}
	orgID, err = uuid.Parse(orgIDStr.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid org id"})
		return uuid.Nil, uuid.Nil, false
	}

	return orgID, userID, true
}
