package api

import (
	"compliance-core/internal/audit"
	"compliance-core/internal/auth"
	"compliance-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds the configuration for setting up API routes
type RouterConfig struct {
	JWT              *auth.JWTService
	Authorizer       *auth.Authorizer
	Revocations      auth.RevocationStore
	AuditService     audit.Service
	ExportService    ExportService
	DeletionService  DeletionService
	RetentionService RetentionService
	Logger           logger.Logger
	AllowedOrigins   []string
}

// SetupRoutes configures all API routes under /api/v1
func SetupRoutes(router *gin.Engine, config *RouterConfig) {
	auditHandler := NewAuditHandler(config.AuditService, config.ExportService)
	deletionHandler := NewDeletionHandler(config.DeletionService, config.Logger)
	retentionHandler := NewRetentionHandler(config.RetentionService, config.AuditService, config.Logger)

	authz := config.Authorizer
	if authz == nil {
		authz = auth.NewAuthorizer()
	}
	revocations := config.Revocations
	if revocations == nil {
		revocations = auth.NewMemoryRevocationStore()
	}
	sessionHandler := NewSessionHandler(authz, revocations, config.AuditService, config.Logger)

	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(config.AllowedOrigins))

	v1 := router.Group("/api/v1")
	v1.Use(ContentTypeMiddleware())
	v1.Use(auth.RequireAuth(config.JWT, auth.WithRevocation(revocations)))
	v1.Use(audit.ActorMiddleware())

	{
		session := v1.Group("/auth")
		{
			session.GET("/me", sessionHandler.Me)
			session.POST("/logout", sessionHandler.Logout)
		}

		auditLogs := v1.Group("/audit")
		auditLogs.Use(auth.RequirePermission(authz, auth.ResourceAudit, auth.ActionRead))
		{
			auditLogs.GET("/entries", auditHandler.ListEntries)
			auditLogs.GET("/entries/:id", auditHandler.GetEntry)
			auditLogs.GET("/history/:entityType/:entityId", auditHandler.GetEntityHistory)
			auditLogs.GET("/search", auditHandler.Search)
			auditLogs.GET("/aggregations", auditHandler.Aggregations)
			auditLogs.GET("/summary/daily", auditHandler.DailySummary)
			auditLogs.GET("/export", auditHandler.Export)
		}

		deletions := v1.Group("/deletion")
		deletions.Use(auth.RequirePermission(authz, auth.ResourceDeletion, auth.ActionRead))
		manageDeletions := auth.RequirePermission(authz, auth.ResourceDeletion, auth.ActionWrite)
		{
			deletions.POST("/requests", manageDeletions, deletionHandler.CreateRequest)
			deletions.GET("/requests", deletionHandler.ListRequests)
			deletions.GET("/requests/:id", deletionHandler.GetRequest)
			deletions.POST("/requests/:id/process", manageDeletions, deletionHandler.ProcessRequest)
			deletions.POST("/requests/:id/cancel", manageDeletions, deletionHandler.CancelRequest)
			deletions.GET("/entities/:entityType/dependents", deletionHandler.GetDependents)
		}

		retentions := v1.Group("/retention")
		retentions.Use(auth.RequirePermission(authz, auth.ResourceRetention, auth.ActionRead))
		manageRetention := auth.RequirePermission(authz, auth.ResourceRetention, auth.ActionWrite)
		{
			retentions.GET("/policy", retentionHandler.GetPolicy)
			retentions.PUT("/policy", manageRetention, retentionHandler.UpdatePolicy)
			retentions.POST("/archive", manageRetention, retentionHandler.Archive)
			retentions.GET("/jobs/:id", retentionHandler.GetJob)
			retentions.POST("/cleanup", manageRetention, retentionHandler.Cleanup)
			retentions.GET("/batches", retentionHandler.ListBatches)
			retentions.POST("/batches/:id/restore", manageRetention, retentionHandler.RestoreBatch)
			retentions.GET("/stats", retentionHandler.Stats)
		}
	}
}
