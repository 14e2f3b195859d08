package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/usecase"
)

// AuthHandler exposes the session lifecycle endpoints.
type AuthHandler struct {
	auth   *usecase.AuthService
	cookie config.CookieSettings
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, cookie config.CookieSettings) *AuthHandler {
	return &AuthHandler{auth: auth, cookie: cookie}
}

// RegisterRoutes binds authentication routes, applying optional middleware
// ahead of the login and refresh handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares, refreshMiddlewares []gin.HandlerFunc) {
	loginChain := append([]gin.HandlerFunc{}, loginMiddlewares...)
	loginChain = append(loginChain, h.login)
	r.POST("/login", loginChain...)

	refreshChain := append([]gin.HandlerFunc{}, refreshMiddlewares...)
	refreshChain = append(refreshChain, h.refresh)
	r.POST("/refresh", refreshChain...)

	r.POST("/logout", h.logout)
}

// Login godoc
// @Summary Authenticate with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "invalid login payload"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid email or password"},
			{Err: usecase.ErrExternalIdentityOnly, Status: http.StatusConflict, Code: "EXTERNAL_IDENTITY_ONLY", Message: "account signs in through its identity provider"},
			{Err: usecase.ErrEmailNotVerified, Status: http.StatusForbidden, Code: "EMAIL_NOT_VERIFIED", Message: "email address not verified"},
		}, http.StatusInternalServerError, "login failed")
		return
	}

	if result.TwoFactorPendingToken != "" {
		c.JSON(http.StatusOK, OK(c, "two-factor verification required", TwoFactorChallengePayload{
			PendingToken: result.TwoFactorPendingToken,
			ExpiresAt:    result.TwoFactorPendingExpiresAt,
		}))
		return
	}

	setSessionCookies(c, h.cookie, result.Tokens)
	c.JSON(http.StatusOK, OK(c, "login successful", newLoginPayload(result)))
}

// Refresh godoc
// @Summary Exchange a refresh token for a new access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	_ = c.ShouldBindJSON(&req)

	token := refreshTokenFromRequest(c, h.cookie, req.RefreshToken)
	if token == "" {
		c.JSON(http.StatusUnauthorized, Fail(c, "refresh token required"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidOrExpiredToken, Status: http.StatusUnauthorized, Message: "invalid or expired refresh token"},
		}, http.StatusInternalServerError, "refresh failed")
		return
	}

	setAccessCookie(c, h.cookie, result.AccessToken, result.AccessExpiresAt)

	c.JSON(http.StatusOK, OK(c, "token refreshed", RefreshPayload{
		AccessToken:     result.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: result.AccessExpiresAt,
		Account:         newAccountPayload(result.Account),
	}))
}

// Logout godoc
// @Summary End the current session
// @Description Clears the stored refresh session. Always succeeds, even for
// invalid or already-cleared tokens.
// @Tags Authentication
// @Produce json
// @Success 200 {object} Envelope
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	var req RefreshRequest
	_ = c.ShouldBindJSON(&req)

	token := refreshTokenFromRequest(c, h.cookie, req.RefreshToken)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "logout failed")
		return
	}

	clearSessionCookies(c, h.cookie)
	c.JSON(http.StatusOK, OK(c, "logged out", nil))
}
