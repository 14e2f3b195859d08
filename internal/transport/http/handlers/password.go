package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/transport/http/middleware"
	"github.com/taskplane/identity-service/internal/usecase"
)

// PasswordHandler exposes the forgot/reset flow and authenticated changes.
type PasswordHandler struct {
	passwords *usecase.PasswordService
	cookie    config.CookieSettings
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(passwords *usecase.PasswordService, cookie config.CookieSettings) *PasswordHandler {
	return &PasswordHandler{passwords: passwords, cookie: cookie}
}

// ForgotPassword godoc
// @Summary Start the password reset flow
// @Description Responds identically whether or not the address is
// registered.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ForgotPasswordRequest true "Forgot password payload"
// @Success 200 {object} Envelope
// @Failure 429 {object} Envelope
// @Router /api/v1/auth/forgot-password [post]
func (h *PasswordHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "email required"))
		return
	}

	if err := h.passwords.ForgotPassword(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "request failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "reset email sent if the address is registered", nil))
}

// ResetPassword godoc
// @Summary Redeem a reset token and set a new password
// @Description All outstanding tokens and the refresh session are revoked.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset payload"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Router /api/v1/auth/reset-password [post]
func (h *PasswordHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "token and new password required"))
		return
	}

	if err := h.passwords.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrResetTokenInvalid, Status: http.StatusBadRequest, Message: "reset token invalid"},
			{Err: usecase.ErrResetTokenExpired, Status: http.StatusBadRequest, Message: "reset token expired"},
			{Err: usecase.ErrSamePassword, Status: http.StatusBadRequest, Message: "new password must differ from the current one"},
		}, http.StatusInternalServerError, "reset failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "password reset, sign in again", nil))
}

// ChangePassword godoc
// @Summary Change the password of the authenticated account
// @Description Requires re-entering the current password. All outstanding
// tokens and the refresh session are revoked.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Change payload"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/account/password [put]
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "current and new password required"))
		return
	}

	err := h.passwords.ChangePassword(c.Request.Context(), principal.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrCurrentPasswordInvalid, Status: http.StatusUnauthorized, Message: "current password invalid"},
			{Err: usecase.ErrSamePassword, Status: http.StatusBadRequest, Message: "new password must differ from the current one"},
			{Err: usecase.ErrExternalIdentityOnly, Status: http.StatusConflict, Message: "account signs in through its identity provider"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "change failed")
		return
	}

	clearSessionCookies(c, h.cookie)
	c.JSON(http.StatusOK, OK(c, "password changed, sign in again", nil))
}
