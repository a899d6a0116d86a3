package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skyquote/skyquote/internal/middleware"
	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/services"
	"github.com/skyquote/skyquote/pkg/response"
)

// EnquiryHandler exposes the public enquiry form endpoint and the admin
// enquiry commands.
type EnquiryHandler struct {
	enquiries *services.EnquiryService
	invites   *services.InviteService
}

// NewEnquiryHandler constructs an EnquiryHandler.
func NewEnquiryHandler(enquiries *services.EnquiryService, invites *services.InviteService) *EnquiryHandler {
	return &EnquiryHandler{enquiries: enquiries, invites: invites}
}

type createEnquiryRequest struct {
	Name            string     `json:"name" validate:"required,min=2,max=128"`
	Email           string     `json:"email" validate:"required,email"`
	Phone           string     `json:"phone" validate:"omitempty,max=32"`
	Service         string     `json:"service" validate:"required,max=64"`
	Postcode        string     `json:"postcode" validate:"required,ukpostcode"`
	Region          string     `json:"region" validate:"omitempty,max=64"`
	PreferredDate   *time.Time `json:"preferred_date"`
	DateFlexibility string     `json:"date_flexibility" validate:"omitempty,oneof=FIXED WITHIN_WEEK WITHIN_MONTH ASAP"`
	Details         string     `json:"details" validate:"omitempty,max=4000"`
	Consent         bool       `json:"consent" validate:"eq=true"`
}

// POST /api/enquiries
func (h *EnquiryHandler) Create(c *gin.Context) {
	var req createEnquiryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	enquiry, err := h.enquiries.Create(requestContext(c), services.CreateEnquiryInput{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Service:         req.Service,
		Postcode:        req.Postcode,
		Region:          req.Region,
		PreferredDate:   req.PreferredDate,
		DateFlexibility: models.DateFlexibility(req.DateFlexibility),
		Details:         req.Details,
		Consent:         req.Consent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"enquiry":   enquiry,
		"reference": services.EnquiryReference(enquiry.ID),
	})
}

// GET /api/admin/enquiries
func (h *EnquiryHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	enquiries, total, err := h.enquiries.List(requestContext(c), services.ListEnquiriesInput{
		Status:   models.EnquiryStatus(c.Query("status")),
		Service:  c.Query("service"),
		Page:     page,
		PageSize: perPage,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}

	response.SuccessWithMeta(c, http.StatusOK, gin.H{"enquiries": enquiries}, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

// GET /api/admin/enquiries/:id
func (h *EnquiryHandler) Detail(c *gin.Context) {
	detail, err := h.enquiries.Detail(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// POST /api/admin/enquiries/:id/close
func (h *EnquiryHandler) Close(c *gin.Context) {
	actor := c.GetString(middleware.CtxAdminEmailKey)
	if actor == "" {
		actor = c.GetString(middleware.CtxAdminIDKey)
	}

	enquiry, err := h.enquiries.Close(requestContext(c), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enquiry": enquiry})
}

type dispatchInvitesRequest struct {
	IncludeOperatorIDs []string `json:"include_operator_ids"`
	ExcludeOperatorIDs []string `json:"exclude_operator_ids"`
}

// POST /api/admin/enquiries/:id/invites
func (h *EnquiryHandler) DispatchInvites(c *gin.Context) {
	// The body is optional: dispatching with no filters invites every
	// eligible operator.
	var req dispatchInvitesRequest
	if !bindOptional(c, &req) {
		return
	}

	actor := c.GetString(middleware.CtxAdminEmailKey)
	if actor == "" {
		actor = c.GetString(middleware.CtxAdminIDKey)
	}

	result, err := h.invites.Dispatch(requestContext(c), services.DispatchInput{
		EnquiryID:          c.Param("id"),
		Actor:              actor,
		IncludeOperatorIDs: req.IncludeOperatorIDs,
		ExcludeOperatorIDs: req.ExcludeOperatorIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"invites_created": len(result.Created),
		"skipped":         result.Skipped,
		"invites":         result.Created,
	})
}

// GET /i/:id/open
//
// Invite open tracking, reached from a pixel in the invitation email. It
// always answers 204: a broken tracking hit must not surface errors to the
// operator's mail client.
func (h *EnquiryHandler) TrackInviteOpen(c *gin.Context) {
	_ = h.invites.MarkOpened(requestContext(c), c.Param("id"))
	c.Status(http.StatusNoContent)
}
