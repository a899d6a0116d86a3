package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/skyquote/skyquote/internal/auth"
	"github.com/skyquote/skyquote/internal/middleware"
	"github.com/skyquote/skyquote/pkg/response"
)

// AuthHandler exposes the passwordless admin sign-in endpoints.
type AuthHandler struct {
	magicLinks *iauth.MagicLinkService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(magicLinks *iauth.MagicLinkService) *AuthHandler {
	return &AuthHandler{magicLinks: magicLinks}
}

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type redeemRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/auth/magic-link
//
// Always returns 202 for well-formed requests so the endpoint cannot be used
// to probe which addresses have admin accounts.
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req magicLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.magicLinks.Request(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"message": "if that address has an admin account, a sign-in link is on its way",
	})
}

// POST /api/auth/redeem
func (h *AuthHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.magicLinks.Redeem(requestContext(c), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"admin_id": c.GetString(middleware.CtxAdminIDKey),
		"email":    c.GetString(middleware.CtxAdminEmailKey),
	})
}
