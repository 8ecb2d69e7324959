package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/export"

	"github.com/gin-gonic/gin"
)

// AuditHandler serves the audit log read and export endpoints
type AuditHandler struct {
	audit  audit.Service
	export ExportService
	now    func() time.Time
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditService audit.Service, exportService ExportService) *AuditHandler {
	return &AuditHandler{
		audit:  auditService,
		export: exportService,
		now:    time.Now,
	}
}

// AuditQueryParams are the query string filters accepted by the listing and export routes
type AuditQueryParams struct {
	UserID         string `form:"userId"`
	EntityType     string `form:"entityType"`
	EntityID       string `form:"entityId"`
	Actions        string `form:"actions"`
	StartDate      string `form:"startDate"`
	EndDate        string `form:"endDate"`
	Archived       string `form:"archived"`
	Limit          int    `form:"limit"`
	Offset         int    `form:"offset"`
	OrderBy        string `form:"orderBy"`
	OrderDirection string `form:"orderDirection"`
}

func (p AuditQueryParams) toQueryOptions(tenantID string) (audit.QueryOptions, error) {
	start, err := parseTime(p.StartDate)
	if err != nil {
		return audit.QueryOptions{}, fmt.Errorf("invalid startDate: %w", err)
	}
	end, err := parseTime(p.EndDate)
	if err != nil {
		return audit.QueryOptions{}, fmt.Errorf("invalid endDate: %w", err)
	}

	var archived *bool
	if p.Archived != "" {
		b, err := strconv.ParseBool(p.Archived)
		if err != nil {
			return audit.QueryOptions{}, fmt.Errorf("invalid archived flag: %w", err)
		}
		archived = &b
	}

	return audit.QueryOptions{
		Filter: audit.Filter{
			TenantID:   tenantID,
			UserID:     p.UserID,
			EntityType: audit.EntityType(p.EntityType),
			EntityID:   p.EntityID,
			Actions:    parseActions(p.Actions),
			StartDate:  start,
			EndDate:    end,
			Archived:   archived,
		},
		Limit:          p.Limit,
		Offset:         p.Offset,
		OrderBy:        p.OrderBy,
		OrderDirection: p.OrderDirection,
	}, nil
}

func (h *AuditHandler) bindQuery(c *gin.Context) (audit.QueryOptions, bool) {
	var params AuditQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		badRequest(c, err.Error())
		return audit.QueryOptions{}, false
	}
	opts, err := params.toQueryOptions(actorFrom(c).TenantID)
	if err != nil {
		badRequest(c, err.Error())
		return audit.QueryOptions{}, false
	}
	return opts, true
}

// ListEntries returns one page of the tenant's audit entries
func (h *AuditHandler) ListEntries(c *gin.Context) {
	opts, ok := h.bindQuery(c)
	if !ok {
		return
	}

	result, err := h.audit.Query(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetEntry returns one audit entry
func (h *AuditHandler) GetEntry(c *gin.Context) {
	entry, err := h.audit.FindByID(c.Request.Context(), c.Param("id"), actorFrom(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetEntityHistory returns every entry for one entity, oldest first
func (h *AuditHandler) GetEntityHistory(c *gin.Context) {
	entityType := audit.EntityType(c.Param("entityType"))
	entries, err := h.export.GetEntityHistory(c.Request.Context(), actorFrom(c).TenantID, entityType, c.Param("entityId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityType": entityType,
		"entityId":   c.Param("entityId"),
		"entries":    entries,
	})
}

// Search runs a free-text search over the tenant's entries
func (h *AuditHandler) Search(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "limit must be a number")
		return
	}

	entries, truncated, err := h.export.Search(c.Request.Context(), actorFrom(c).TenantID, c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":     c.Query("q"),
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	})
}

// Aggregations counts entries by action, entity type, user and day
func (h *AuditHandler) Aggregations(c *gin.Context) {
	start, err := parseTime(c.Query("startDate"))
	if err != nil {
		badRequest(c, "invalid startDate")
		return
	}
	end, err := parseTime(c.Query("endDate"))
	if err != nil {
		badRequest(c, "invalid endDate")
		return
	}

	agg, err := h.export.GetAggregations(c.Request.Context(), actorFrom(c).TenantID, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// DailySummary summarizes one UTC day, today by default
func (h *AuditHandler) DailySummary(c *gin.Context) {
	day := h.now().UTC()
	if value := c.Query("date"); value != "" {
		parsed, err := time.Parse(time.DateOnly, value)
		if err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	summary, err := h.export.GetDailySummary(c.Request.Context(), actorFrom(c).TenantID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Export streams the matching entries as CSV or JSON. The export itself is
// recorded in the audit log.
func (h *AuditHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", export.FormatJSON)
	if format != export.FormatJSON && format != export.FormatCSV {
		badRequest(c, "format must be csv or json")
		return
	}

	opts, ok := h.bindQuery(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	exportOpts := export.Options{QueryOptions: opts, Actor: &actor}

	var (
		data        []byte
		err         error
		contentType string
	)
	if format == export.FormatCSV {
		data, err = h.export.ExportToCSV(c.Request.Context(), exportOpts)
		contentType = "text/csv; charset=utf-8"
	} else {
		data, err = h.export.ExportToJSON(c.Request.Context(), exportOpts)
		contentType = "application/json; charset=utf-8"
	}
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("audit-%s-%s.%s", actor.TenantID, h.now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
