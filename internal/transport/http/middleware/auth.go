package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/usecase"
)

// AccessTokenCookie is the cookie checked before the Authorization header.
const AccessTokenCookie = "access_token"

// PrincipalKey is the gin context key holding the authenticated principal.
const PrincipalKey = "principal"

type guardErrorBody struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	RequiredRoles []string `json:"required_roles,omitempty"`
	YourRole      string   `json:"your_role,omitempty"`
	TraceID       string   `json:"trace_id,omitempty"`
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, guardErrorBody{
		Message: message,
		TraceID: GetTraceID(c),
	})
}

// bearerToken extracts the access token from the request: the access_token
// cookie wins, then the Authorization header. Returns "" when neither is set.
func bearerToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAuth admits only requests carrying a valid access token for a
// verified account. The guard fails closed: any token problem, a revoked
// token version, or an unverified email yields 401 without detail.
func RequireAuth(auth *usecase.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthorized(c, "authentication required")
			return
		}

		account, _, err := auth.ResolveAccessToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired access token")
			return
		}

		if !account.IsEmailVerified {
			abortUnauthorized(c, "email not verified")
			return
		}

		c.Set(PrincipalKey, domain.Principal{
			ID:    account.ID,
			Email: account.Email,
			Role:  account.Role,
		})
		c.Set(UserIDKey, account.ID)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = account.ID
		}

		c.Next()
	}
}

// RequireAdmin rejects principals without the admin role. It must run after
// RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abortUnauthorized(c, "authentication required")
			return
		}
		if !principal.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, guardErrorBody{
				Message:       "insufficient permissions",
				RequiredRoles: []string{string(domain.RoleAdmin)},
				YourRole:      string(principal.Role),
				TraceID:       GetTraceID(c),
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal retrieves the authenticated principal set by RequireAuth.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}
