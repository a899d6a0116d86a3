package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/services"
	"github.com/skyquote/skyquote/pkg/response"
)

// OperatorHandler exposes admin reads over approved operator profiles.
type OperatorHandler struct {
	operators *services.OperatorService
}

// NewOperatorHandler constructs an OperatorHandler.
func NewOperatorHandler(operators *services.OperatorService) *OperatorHandler {
	return &OperatorHandler{operators: operators}
}

// GET /api/admin/operators
func (h *OperatorHandler) List(c *gin.Context) {
	operators, err := h.operators.List(requestContext(c), services.ListOperatorsInput{
		Service:    c.Query("service"),
		Region:     c.Query("region"),
		Tier:       models.OperatorTier(c.Query("tier")),
		ActiveOnly: c.Query("active") == "true",
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"operators": operators})
}

// GET /api/admin/operators/:id
func (h *OperatorHandler) Get(c *gin.Context) {
	operator, err := h.operators.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"operator": operator})
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// PATCH /api/admin/operators/:id/active
func (h *OperatorHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	operator, err := h.operators.SetActive(requestContext(c), c.Param("id"), *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"operator": operator})
}
