package api

import (
	"net/http"

	"compliance-core/internal/audit"
	"compliance-core/internal/models"
	"compliance-core/internal/retention"
	"compliance-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

const policyEntityID = "retention-policy"

// RetentionHandler serves the archival and retention endpoints
type RetentionHandler struct {
	retention RetentionService
	audit     audit.Service
	logger    logger.Logger
}

// NewRetentionHandler creates a new retention handler. Policy changes are
// written to auditService.
func NewRetentionHandler(retentionService RetentionService, auditService audit.Service, log logger.Logger) *RetentionHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &RetentionHandler{retention: retentionService, audit: auditService, logger: log}
}

// GetPolicy returns the current retention policy
func (h *RetentionHandler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.retention.GetPolicy())
}

// UpdatePolicy applies a partial policy update. A null field resets it to its default.
func (h *RetentionHandler) UpdatePolicy(c *gin.Context) {
	var update retention.PolicyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err.Error())
		return
	}

	before := h.retention.GetPolicy()
	after, err := h.retention.UpdatePolicy(update)
	if err != nil {
		respondError(c, err)
		return
	}

	actor := actorFrom(c)
	_, err = h.audit.LogUpdate(c.Request.Context(), actor, audit.EntitySystem, policyEntityID,
		policyFields(before), policyFields(after))
	if err != nil {
		h.logger.Warn("Failed to audit retention policy change", map[string]interface{}{
			"user_id": actor.UserID,
			"error":   err.Error(),
		})
	}

	c.JSON(http.StatusOK, after)
}

func policyFields(p retention.Policy) map[string]interface{} {
	return map[string]interface{}{
		"activeRetentionDays":  p.ActiveRetentionDays,
		"archiveRetentionDays": p.ArchiveRetentionDays,
		"archiveBatchSize":     p.ArchiveBatchSize,
		"compressArchive":      p.CompressArchive,
	}
}

// Archive runs an archive job for the caller's tenant. A failed job is still
// returned with its error.
func (h *RetentionHandler) Archive(c *gin.Context) {
	job, err := h.retention.ArchiveOldEntries(c.Request.Context(), actorFrom(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetJob returns an archive job of the caller's tenant
func (h *RetentionHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	job, err := h.retention.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.TenantID != "" && job.TenantID != actorFrom(c).TenantID {
		respondError(c, models.NewNotFoundError(models.CodeJobNotFound, "archive job not found: "+id))
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cleanup removes the caller's expired entries and batches
func (h *RetentionHandler) Cleanup(c *gin.Context) {
	result, err := h.retention.CleanupExpired(c.Request.Context(), actorFrom(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListBatches returns a page of the caller's archive batches
func (h *RetentionHandler) ListBatches(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "limit must be a number")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, "offset must be a number")
		return
	}

	batches, total, err := h.retention.ListBatches(c.Request.Context(), retention.BatchFilter{
		TenantID: actorFrom(c).TenantID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: batches, Total: total, Limit: limit, Offset: offset})
}

// RestoreBatch reads a batch back from cold storage. A storage failure is
// reported on the restore record with status FAILED.
func (h *RetentionHandler) RestoreBatch(c *gin.Context) {
	restore, entries, err := h.retention.RestoreArchive(c.Request.Context(), c.Param("id"), actorFrom(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []audit.AuditEntry{}
	}
	c.JSON(http.StatusOK, RestoreResponse{Restore: restore, Entries: entries})
}

// Stats reports how the caller's entries are spread across retention tiers
func (h *RetentionHandler) Stats(c *gin.Context) {
	stats, err := h.retention.GetStats(c.Request.Context(), actorFrom(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
