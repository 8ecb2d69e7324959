package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by RequireAuth
const (
	ContextTenantID  = "tenant_id"
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserName  = "user_name"
	ContextRole      = "role"
	ContextClaims    = "claims"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MiddlewareOption configures RequireAuth
type MiddlewareOption func(*authOptions)

type authOptions struct {
	revocations RevocationStore
}

// WithRevocation rejects tokens whose ID has been revoked
func WithRevocation(store RevocationStore) MiddlewareOption {
	return func(o *authOptions) { o.revocations = store }
}

// RequireAuth validates the bearer token and copies its claims onto the
// context. The tenant always comes from the token.
func RequireAuth(jwtService *JWTService, opts ...MiddlewareOption) gin.HandlerFunc {
	var o authOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "Missing or malformed authorization header",
				Code:  "MISSING_AUTH_HEADER",
			})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, ErrMissingTenant) {
				code = "MISSING_TENANT"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "Invalid token",
				Code:  code,
			})
			return
		}

		if o.revocations != nil {
			revoked, err := o.revocations.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{
					Error: "Unable to verify token",
					Code:  "AUTH_UNAVAILABLE",
				})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
					Error: "Token has been revoked",
					Code:  "TOKEN_REVOKED",
				})
				return
			}
		}

		c.Set(ContextTenantID, claims.TenantID)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserName, claims.Name)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireRole allows the request through only when the token carries one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextClaims); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "User not authenticated",
				Code:  "NOT_AUTHENTICATED",
			})
			return
		}

		role := c.GetString(ContextRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
			Error: "Insufficient role permissions",
			Code:  "INSUFFICIENT_ROLE",
		})
	}
}

// RequirePermission allows the request through only when the caller's role
// holds action on resource
func RequirePermission(authz *Authorizer, resource Resource, action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextClaims); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "User not authenticated",
				Code:  "NOT_AUTHENTICATED",
			})
			return
		}

		if !authz.Allows(c.GetString(ContextRole), resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Error: "Insufficient permissions",
				Code:  "INSUFFICIENT_PERMISSIONS",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims RequireAuth stored on the context
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ContextClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
