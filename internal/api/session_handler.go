package api

import (
	"net/http"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/auth"
	"compliance-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionHandler serves the caller's identity and token revocation
type SessionHandler struct {
	authz       *auth.Authorizer
	revocations auth.RevocationStore
	audit       audit.Service
	logger      logger.Logger
}

// SessionResponse describes the authenticated caller
type SessionResponse struct {
	UserID      string             `json:"userId"`
	TenantID    string             `json:"tenantId"`
	Email       string             `json:"email,omitempty"`
	Name        string             `json:"name,omitempty"`
	Role        string             `json:"role"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	Permissions []auth.AccessLevel `json:"permissions"`
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(authz *auth.Authorizer, revocations auth.RevocationStore, auditService audit.Service, log logger.Logger) *SessionHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionHandler{authz: authz, revocations: revocations, audit: auditService, logger: log}
}

// Me returns the caller's identity and effective permissions
func (h *SessionHandler) Me(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User not authenticated", Code: "NOT_AUTHENTICATED"})
		return
	}

	resp := SessionResponse{
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		Email:       claims.Email,
		Name:        claims.Name,
		Role:        claims.Role,
		Permissions: h.authz.Permissions(claims.Role),
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time.UTC()
		resp.ExpiresAt = &t
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the presented token for the rest of its lifetime
func (h *SessionHandler) Logout(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User not authenticated", Code: "NOT_AUTHENTICATED"})
		return
	}

	expiresAt := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := h.revocations.Revoke(c.Request.Context(), claims.ID, expiresAt); err != nil {
		h.logger.Error("Failed to revoke token", err, map[string]interface{}{"user_id": claims.UserID})
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Logout failed",
			Message: err.Error(),
			Code:    "AUTH_UNAVAILABLE",
		})
		return
	}

	actor := actorFrom(c)
	_, err := h.audit.Log(c.Request.Context(), audit.LogInput{
		Actor:      actor,
		Action:     audit.ActionLogout,
		EntityType: audit.EntityUser,
		EntityID:   claims.UserID,
	})
	if err != nil {
		h.logger.Warn("Failed to audit logout", map[string]interface{}{
			"user_id": claims.UserID,
			"error":   err.Error(),
		})
	}

	c.Status(http.StatusNoContent)
}
