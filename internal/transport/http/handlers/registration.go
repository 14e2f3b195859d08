package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/usecase"
)

// RegistrationHandler exposes account creation and email verification.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
	cookie       config.CookieSettings
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registration *usecase.RegistrationService, cookie config.CookieSettings) *RegistrationHandler {
	return &RegistrationHandler{registration: registration, cookie: cookie}
}

// RegisterRoutes binds registration routes, applying optional middleware ahead of register.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup, registerMiddlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, registerMiddlewares...)
	chain = append(chain, h.register)
	r.POST("/register", chain...)

	r.POST("/verify-email", h.verifyEmail)
	r.POST("/resend-verification", h.resendVerification)
}

// Register godoc
// @Summary Create a new account
// @Description Registers the account, queues a verification email, and
// issues an initial token pair.
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} Envelope
// @Failure 400 {object} Envelope
// @Router /api/v1/auth/register [post]
func (h *RegistrationHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "invalid registration payload"))
		return
	}

	result, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrDuplicateAccount, Status: http.StatusBadRequest, Message: "email already registered"},
		}, http.StatusInternalServerError, "registration failed")
		return
	}

	setSessionCookies(c, h.cookie, result.Tokens)
	c.JSON(http.StatusCreated, OK(c, "account created, verification email sent", newLoginPayload(result)))
}

// VerifyEmail godoc
// @Summary Redeem an email verification token
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body VerifyEmailRequest true "Verification payload"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 410 {object} Envelope
// @Router /api/v1/auth/verify-email [post]
func (h *RegistrationHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "verification token required"))
		return
	}

	account, err := h.registration.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrVerificationTokenInvalid, Status: http.StatusBadRequest, Message: "verification token invalid"},
			{Err: usecase.ErrVerificationTokenExpired, Status: http.StatusGone, Message: "verification token expired"},
		}, http.StatusInternalServerError, "verification failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "email verified", newAccountPayload(*account)))
}

// ResendVerification godoc
// @Summary Send a fresh verification email
// @Description Unknown addresses succeed silently.
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body ResendVerificationRequest true "Resend payload"
// @Success 200 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /api/v1/auth/resend-verification [post]
func (h *RegistrationHandler) resendVerification(c *gin.Context) {
	var req ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "email required"))
		return
	}

	if err := h.registration.ResendVerification(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAlreadyVerified, Status: http.StatusConflict, Message: "email already verified"},
		}, http.StatusInternalServerError, "resend failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "verification email sent if the address is registered", nil))
}
