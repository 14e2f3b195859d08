package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/transport/http/middleware"
	"github.com/taskplane/identity-service/internal/usecase"
)

const defaultRefreshCookie = "refresh_token"

func refreshCookieName(cfg config.CookieSettings) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return defaultRefreshCookie
}

func cookiePath(cfg config.CookieSettings) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return "/"
}

func sameSiteMode(cfg config.CookieSettings) http.SameSite {
	switch strings.ToLower(cfg.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// setSessionCookies stores both tokens as HTTP-only cookies alongside the
// JSON body, so browser clients never touch the raw values.
func setSessionCookies(c *gin.Context, cfg config.CookieSettings, pair usecase.TokenPair) {
	c.SetSameSite(sameSiteMode(cfg))

	accessMaxAge := int(time.Until(pair.AccessExpiresAt).Seconds())
	refreshMaxAge := int(time.Until(pair.RefreshExpiresAt).Seconds())

	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken, accessMaxAge, cookiePath(cfg), cfg.Domain, cfg.Secure, true)
	c.SetCookie(refreshCookieName(cfg), pair.RefreshToken, refreshMaxAge, cookiePath(cfg), cfg.Domain, cfg.Secure, true)
}

// setAccessCookie refreshes only the access token cookie.
func setAccessCookie(c *gin.Context, cfg config.CookieSettings, token string, expiresAt time.Time) {
	c.SetSameSite(sameSiteMode(cfg))
	c.SetCookie(middleware.AccessTokenCookie, token, int(time.Until(expiresAt).Seconds()), cookiePath(cfg), cfg.Domain, cfg.Secure, true)
}

// clearSessionCookies expires both cookies.
func clearSessionCookies(c *gin.Context, cfg config.CookieSettings) {
	c.SetSameSite(sameSiteMode(cfg))
	c.SetCookie(middleware.AccessTokenCookie, "", -1, cookiePath(cfg), cfg.Domain, cfg.Secure, true)
	c.SetCookie(refreshCookieName(cfg), "", -1, cookiePath(cfg), cfg.Domain, cfg.Secure, true)
}

// refreshTokenFromRequest prefers the cookie, then the JSON body field.
func refreshTokenFromRequest(c *gin.Context, cfg config.CookieSettings, bodyToken string) string {
	if cookie, err := c.Cookie(refreshCookieName(cfg)); err == nil && cookie != "" {
		return cookie
	}
	return strings.TrimSpace(bodyToken)
}
