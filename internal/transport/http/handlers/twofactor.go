package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/transport/http/middleware"
	"github.com/taskplane/identity-service/internal/usecase"
)

// TwoFactorHandler exposes TOTP enrollment and verification endpoints.
type TwoFactorHandler struct {
	twofactor *usecase.TwoFactorService
	cookie    config.CookieSettings
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twofactor *usecase.TwoFactorService, cookie config.CookieSettings) *TwoFactorHandler {
	return &TwoFactorHandler{twofactor: twofactor, cookie: cookie}
}

var twoFactorErrorCases = []ErrorCase{
	{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor already enabled"},
	{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "two-factor enrollment not started"},
	{Err: usecase.ErrTwoFactorNotEnabled, Status: http.StatusConflict, Message: "two-factor not enabled"},
	{Err: usecase.ErrTwoFactorCodeInvalid, Status: http.StatusUnauthorized, Message: "code invalid"},
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
}

// Enroll godoc
// @Summary Start two-factor enrollment
// @Description Generates a pending secret; it becomes active only after
// confirmation.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /api/v1/account/2fa/enroll [post]
func (h *TwoFactorHandler) Enroll(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	enrollment, err := h.twofactor.Enroll(c.Request.Context(), principal.ID)
	if err != nil {
		RespondWithMappedError(c, err, twoFactorErrorCases, http.StatusInternalServerError, "enrollment failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "scan the code and confirm with a generated code", TwoFactorEnrollPayload{
		Secret:       enrollment.Secret,
		ProvisionURI: enrollment.ProvisionURI,
	}))
}

// ConfirmSetup godoc
// @Summary Confirm two-factor enrollment
// @Description Activates two-factor and returns the backup codes. They are
// shown exactly once.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorCodeRequest true "Confirmation payload"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/account/2fa/confirm [post]
func (h *TwoFactorHandler) ConfirmSetup(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	var req TwoFactorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "code required"))
		return
	}

	backupCodes, err := h.twofactor.ConfirmSetup(c.Request.Context(), principal.ID, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, twoFactorErrorCases, http.StatusInternalServerError, "confirmation failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "two-factor enabled, store these backup codes now", TwoFactorBackupCodesPayload{
		BackupCodes: backupCodes,
	}))
}

// VerifyLogin godoc
// @Summary Complete a two-factor login
// @Description Redeems the pending token from the password step together
// with a TOTP code or a single-use backup code and issues a fresh token
// pair.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorVerifyRequest true "Verification payload"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/auth/2fa/verify [post]
func (h *TwoFactorHandler) VerifyLogin(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "pending token and code required"))
		return
	}

	result, err := h.twofactor.VerifyLogin(c.Request.Context(), req.PendingToken, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, append(twoFactorErrorCases, ErrorCase{
			Err: usecase.ErrTwoFactorPendingInvalid, Status: http.StatusUnauthorized, Message: "two-factor challenge invalid or expired",
		}), http.StatusInternalServerError, "verification failed")
		return
	}

	setSessionCookies(c, h.cookie, result.Tokens)
	c.JSON(http.StatusOK, OK(c, "login successful", newLoginPayload(result)))
}

// Disable godoc
// @Summary Turn two-factor off
// @Description Requires the password and a currently valid code.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorDisableRequest true "Disable payload"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/account/2fa [delete]
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	var req TwoFactorDisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "password and code required"))
		return
	}

	err := h.twofactor.Disable(c.Request.Context(), principal.ID, req.Password, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, append(twoFactorErrorCases, ErrorCase{
			Err: usecase.ErrCurrentPasswordInvalid, Status: http.StatusUnauthorized, Message: "password invalid",
		}), http.StatusInternalServerError, "disable failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "two-factor disabled", nil))
}
