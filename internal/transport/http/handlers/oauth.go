package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/oauth"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/usecase"
)

const oauthStateCookie = "oauth_state"

// OAuthHandler exposes the external identity provider flow.
type OAuthHandler struct {
	identities *usecase.ExternalIdentityService
	verifier   *oauth.Verifier
	cookie     config.CookieSettings
}

// NewOAuthHandler constructs OAuthHandler.
func NewOAuthHandler(identities *usecase.ExternalIdentityService, verifier *oauth.Verifier, cookie config.CookieSettings) *OAuthHandler {
	return &OAuthHandler{identities: identities, verifier: verifier, cookie: cookie}
}

// Authorize godoc
// @Summary Redirect to the identity provider
// @Tags OAuth
// @Success 307
// @Router /api/v1/auth/oauth/authorize [get]
func (h *OAuthHandler) Authorize(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, Fail(c, "external identity provider not configured"))
		return
	}

	state, err := security.GenerateSecureToken(16)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Fail(c, "authorization failed"))
		return
	}

	c.SetSameSite(sameSiteMode(h.cookie))
	c.SetCookie(oauthStateCookie, state, 300, cookiePath(h.cookie), h.cookie.Domain, h.cookie.Secure, true)
	c.Redirect(http.StatusTemporaryRedirect, h.verifier.AuthCodeURL(state))
}

// Callback godoc
// @Summary Complete the provider flow and sign in
// @Description Exchanges the authorization code, links or creates the
// account, and issues a fresh token pair.
// @Tags OAuth
// @Accept json
// @Produce json
// @Success 200 {object} Envelope
// @Failure 401 {object} Envelope
// @Router /api/v1/auth/oauth/callback [post]
func (h *OAuthHandler) Callback(c *gin.Context) {
	if h.identities == nil {
		c.JSON(http.StatusServiceUnavailable, Fail(c, "external identity provider not configured"))
		return
	}

	var req OAuthCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Providers redirecting with GET pass the code as a query parameter.
		req.Code = c.Query("code")
	}
	if req.Code == "" {
		c.JSON(http.StatusBadRequest, Fail(c, "authorization code required"))
		return
	}

	if state := c.Query("state"); state != "" {
		stored, err := c.Cookie(oauthStateCookie)
		if err != nil || stored != state {
			c.JSON(http.StatusUnauthorized, Fail(c, "state mismatch"))
			return
		}
	}

	result, err := h.identities.Link(c.Request.Context(), req.Code)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrExternalIdentityIncomplete, Status: http.StatusUnprocessableEntity, Message: "provider did not supply an email address"},
			{Err: oauth.ErrIdentityRejected, Status: http.StatusUnauthorized, Message: "identity provider rejected the request"},
		}, http.StatusBadGateway, "sign-in failed")
		return
	}

	c.SetSameSite(sameSiteMode(h.cookie))
	c.SetCookie(oauthStateCookie, "", -1, cookiePath(h.cookie), h.cookie.Domain, h.cookie.Secure, true)

	setSessionCookies(c, h.cookie, result.Tokens)
	c.JSON(http.StatusOK, OK(c, "login successful", newLoginPayload(result)))
}
