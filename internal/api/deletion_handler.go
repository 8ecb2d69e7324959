package api

import (
	"net/http"

	"compliance-core/internal/audit"
	"compliance-core/internal/deletion"
	"compliance-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DeletionHandler serves the right-to-be-forgotten endpoints
type DeletionHandler struct {
	deletion DeletionService
	logger   logger.Logger
}

// NewDeletionHandler creates a new deletion handler
func NewDeletionHandler(deletionService DeletionService, log logger.Logger) *DeletionHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &DeletionHandler{deletion: deletionService, logger: log}
}

// CreateRequest records a PENDING deletion request
func (h *DeletionHandler) CreateRequest(c *gin.Context) {
	var in deletion.CreateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}

	req, err := h.deletion.CreateRequest(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		if req == nil {
			respondError(c, err)
			return
		}
		// The request exists; only its audit entry is missing
		h.logger.Error("Deletion request audit entry failed", err, map[string]interface{}{"request_id": req.ID})
	}
	c.JSON(http.StatusCreated, req)
}

// ListRequests returns a page of the tenant's requests
func (h *DeletionHandler) ListRequests(c *gin.Context) {
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

	filter := deletion.ListFilter{
		TenantID:   actorFrom(c).TenantID,
		Status:     deletion.Status(c.Query("status")),
		EntityType: audit.EntityType(c.Query("entityType")),
		SubjectID:  c.Query("subjectId"),
		Limit:      limit,
		Offset:     offset,
	}
	requests, total, err := h.deletion.ListRequests(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: requests, Total: total, Limit: limit, Offset: offset})
}

// GetRequest returns one request
func (h *DeletionHandler) GetRequest(c *gin.Context) {
	req, err := h.deletion.GetRequest(c.Request.Context(), actorFrom(c).TenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ProcessRequest runs the deletion cascade for a PENDING request
func (h *DeletionHandler) ProcessRequest(c *gin.Context) {
	req, err := h.deletion.ProcessRequest(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CancelRequest cancels a PENDING request
func (h *DeletionHandler) CancelRequest(c *gin.Context) {
	var body CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	req, err := h.deletion.CancelRequest(c.Request.Context(), actorFrom(c), c.Param("id"), body.Reason)
	if err != nil {
		if req == nil {
			respondError(c, err)
			return
		}
		h.logger.Error("Deletion cancel audit entry failed", err, map[string]interface{}{"request_id": req.ID})
	}
	c.JSON(http.StatusOK, req)
}

// GetDependents reports the configured dependents of an entity type
func (h *DeletionHandler) GetDependents(c *gin.Context) {
	entityType := audit.EntityType(c.Param("entityType"))
	deps, err := h.deletion.GetDependentEntities(entityType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityType": entityType,
		"dependents": deps,
	})
}
