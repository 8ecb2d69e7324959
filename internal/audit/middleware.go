package audit

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type contextKey string

const (
	actorKey     contextKey = "audit_actor"
	requestIDKey contextKey = "request_id"
)

// ContextWithActor stores the acting principal on ctx
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor stored by ActorMiddleware
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// RequestIDFromContext returns the request id assigned by ActorMiddleware
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ActorMiddleware builds the audit Actor for each request from the values the
// auth middleware put on the gin context, plus client IP and user agent.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(string(requestIDKey), requestID)
		c.Header("X-Request-ID", requestID)

		actor := Actor{
			TenantID:  c.GetString("tenant_id"),
			UserID:    c.GetString("user_id"),
			UserEmail: c.GetString("user_email"),
			UserName:  c.GetString("user_name"),
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}

		ctx := context.WithValue(c.Request.Context(), requestIDKey, requestID)
		ctx = ContextWithActor(ctx, actor)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
