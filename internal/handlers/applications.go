package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skyquote/skyquote/internal/middleware"
	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/services"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/response"
)

// ApplicationHandler exposes the public pilot application endpoint, the
// admin review commands and the operator-facing backlink confirmation.
type ApplicationHandler struct {
	applications *services.ApplicationService
}

// NewApplicationHandler constructs an ApplicationHandler.
func NewApplicationHandler(applications *services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications}
}

type submitApplicationRequest struct {
	BusinessName string `json:"business_name" validate:"required,min=2,max=128"`
	ContactName  string `json:"contact_name" validate:"required,min=2,max=128"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`

	CAAOperatorID     string     `json:"caa_operator_id" validate:"omitempty,max=32"`
	LicenceType       string     `json:"licence_type" validate:"omitempty,max=64"`
	InsuranceProvider string     `json:"insurance_provider" validate:"omitempty,max=128"`
	InsuranceExpiry   *time.Time `json:"insurance_expiry"`

	WebsiteURL string   `json:"website_url" validate:"omitempty,url,max=256"`
	Services   []string `json:"services" validate:"required,min=1,dive,max=64"`
	Regions    []string `json:"regions" validate:"omitempty,dive,max=64"`
	Summary    string   `json:"summary" validate:"omitempty,max=4000"`
}

// POST /api/applications
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req submitApplicationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	application, err := h.applications.Submit(requestContext(c), services.SubmitApplicationInput{
		BusinessName:      req.BusinessName,
		ContactName:       req.ContactName,
		Email:             req.Email,
		Phone:             req.Phone,
		CAAOperatorID:     req.CAAOperatorID,
		LicenceType:       req.LicenceType,
		InsuranceProvider: req.InsuranceProvider,
		InsuranceExpiry:   req.InsuranceExpiry,
		WebsiteURL:        req.WebsiteURL,
		Services:          req.Services,
		Regions:           req.Regions,
		Summary:           req.Summary,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"application": application})
}

// GET /api/admin/applications
func (h *ApplicationHandler) List(c *gin.Context) {
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	page, err := h.applications.List(requestContext(c), services.ListApplicationsInput{
		Status:   models.ApplicationStatus(c.Query("status")),
		Cursor:   c.Query("cursor"),
		PageSize: perPage,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, gin.H{"applications": page.Applications}, &response.Meta{
		PerPage:    perPage,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// GET /api/admin/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	application, err := h.applications.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"application": application})
}

type reviewRequest struct {
	Notes string `json:"notes" validate:"omitempty,max=4000"`
}

// POST /api/admin/applications/:id/approve
func (h *ApplicationHandler) Approve(c *gin.Context) {
	var req reviewRequest
	if !bindOptional(c, &req) {
		return
	}

	result, err := h.applications.Approve(requestContext(c), c.Param("id"), reviewActor(c), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// POST /api/admin/applications/:id/reject
func (h *ApplicationHandler) Reject(c *gin.Context) {
	var req reviewRequest
	if !bindOptional(c, &req) {
		return
	}

	application, err := h.applications.Reject(requestContext(c), c.Param("id"), reviewActor(c), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"application": application})
}

type requestInfoRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// POST /api/admin/applications/:id/request-info
func (h *ApplicationHandler) RequestInfo(c *gin.Context) {
	var req requestInfoRequest
	if !bindAndValidate(c, &req) {
		return
	}

	application, err := h.applications.RequestInfo(requestContext(c), c.Param("id"), reviewActor(c), req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"application": application})
}

// GET /pilots/confirm/:id
//
// Operator-facing backlink confirmation, reached from the approval email.
// The token rides in the query string.
func (h *ApplicationHandler) ConfirmIntegration(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, apperrors.NewUnauthorized("invalid confirmation link"))
		return
	}

	operator, err := h.applications.ConfirmIntegration(requestContext(c), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"operator": operator,
		"message":  "backlink confirmed; you are now an integrated operator",
	})
}

func reviewActor(c *gin.Context) string {
	if email := c.GetString(middleware.CtxAdminEmailKey); email != "" {
		return email
	}
	return c.GetString(middleware.CtxAdminIDKey)
}
