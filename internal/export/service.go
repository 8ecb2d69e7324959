package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/models"
	"compliance-core/pkg/logger"
)

// MaxRecords caps the entries read for an export, aggregation or search
const MaxRecords = 10000

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Options selects the entries to export. When Actor is set an EXPORT entry
// is written recording who exported what.
type Options struct {
	audit.QueryOptions
	Actor *audit.Actor
}

// Metadata describes an export
type Metadata struct {
	ExportedAt   time.Time    `json:"exportedAt"`
	TenantID     string       `json:"tenantId"`
	TotalRecords int          `json:"totalRecords"`
	Truncated    bool         `json:"truncated"`
	Format       string       `json:"format"`
	Filters      audit.Filter `json:"filters"`
}

// JSONDocument is the body of a JSON export
type JSONDocument struct {
	Metadata Metadata           `json:"metadata"`
	Entries  []audit.AuditEntry `json:"entries"`
}

// Aggregations counts entries along several dimensions
type Aggregations struct {
	TenantID     string           `json:"tenantId"`
	Total        int              `json:"total"`
	Truncated    bool             `json:"truncated"`
	ByAction     map[string]int64 `json:"byAction"`
	ByEntityType map[string]int64 `json:"byEntityType"`
	ByUser       map[string]int64 `json:"byUser"`
	ByDay        map[string]int64 `json:"byDay"`
}

// DailySummary describes one UTC day of activity
type DailySummary struct {
	Date         string           `json:"date"`
	TenantID     string           `json:"tenantId"`
	TotalEntries int              `json:"totalEntries"`
	UniqueUsers  int              `json:"uniqueUsers"`
	ByAction     map[string]int64 `json:"byAction"`
	ByEntityType map[string]int64 `json:"byEntityType"`
	Overrides    int              `json:"overrides"`
}

var csvHeader = []string{
	"id", "timestamp", "tenantId", "userId", "userEmail", "userName", "action",
	"entityType", "entityId", "ipAddress", "userAgent", "reason", "changedFields", "metadata",
}

// Service is the read side of the audit log
type Service struct {
	audit  audit.Service
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an export service
func NewService(auditService audit.Service, opts ...Option) *Service {
	s := &Service{
		audit:  auditService,
		logger: logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportToJSON returns the matching entries as an indented JSON document
func (s *Service) ExportToJSON(ctx context.Context, opts Options) ([]byte, error) {
	doc, err := s.collectExport(ctx, opts, FormatJSON)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	s.recordExport(ctx, opts, doc.Metadata)
	return data, nil
}

// ExportToCSV returns the matching entries as CSV with a header row
func (s *Service) ExportToCSV(ctx context.Context, opts Options) ([]byte, error) {
	doc, err := s.collectExport(ctx, opts, FormatCSV)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range doc.Entries {
		record, err := csvRecord(e)
		if err != nil {
			return nil, err
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}

	s.recordExport(ctx, opts, doc.Metadata)
	return buf.Bytes(), nil
}

func csvRecord(e audit.AuditEntry) ([]string, error) {
	var fields string
	if e.Changes != nil {
		fields = strings.Join(e.Changes.Fields, ";")
	}

	var metadata string
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of entry %s: %w", e.ID, err)
		}
		metadata = string(data)
	}

	return []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.TenantID,
		e.UserID,
		e.UserEmail,
		e.UserName,
		string(e.Action),
		string(e.EntityType),
		e.EntityID,
		e.IPAddress,
		e.UserAgent,
		e.Reason,
		fields,
		metadata,
	}, nil
}

func (s *Service) collectExport(ctx context.Context, opts Options, format string) (*JSONDocument, error) {
	limit := MaxRecords
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	entries, truncated, err := s.collect(ctx, opts.QueryOptions, limit)
	if err != nil {
		return nil, err
	}

	return &JSONDocument{
		Metadata: Metadata{
			ExportedAt:   s.now().UTC(),
			TenantID:     opts.TenantID,
			TotalRecords: len(entries),
			Truncated:    truncated,
			Format:       format,
			Filters:      opts.Filter,
		},
		Entries: entries,
	}, nil
}

func (s *Service) recordExport(ctx context.Context, opts Options, meta Metadata) {
	if opts.Actor == nil {
		return
	}

	actor := *opts.Actor
	actor.TenantID = meta.TenantID
	_, err := s.audit.Log(ctx, audit.LogInput{
		Actor:      actor,
		Action:     audit.ActionExport,
		EntityType: audit.EntityTenant,
		EntityID:   meta.TenantID,
		Metadata: map[string]interface{}{
			"format":       meta.Format,
			"totalRecords": meta.TotalRecords,
			"truncated":    meta.Truncated,
			"filters":      meta.Filters,
		},
	})
	if err != nil {
		s.logger.Warn("Failed to record export in audit log", map[string]interface{}{
			"tenant_id": meta.TenantID,
			"error":     err.Error(),
		})
	}
}

// collect pages through the query until limit entries are read. It reports
// whether more entries matched than were returned.
func (s *Service) collect(ctx context.Context, opts audit.QueryOptions, limit int) ([]audit.AuditEntry, bool, error) {
	entries := make([]audit.AuditEntry, 0)
	offset := opts.Offset

	for len(entries) < limit {
		page := opts
		page.Offset = offset
		page.Limit = min(audit.MaxLimit, limit-len(entries))

		result, err := s.audit.Query(ctx, page)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, result.Entries...)
		if !result.HasMore || len(result.Entries) == 0 {
			return entries, false, nil
		}
		offset += len(result.Entries)
	}

	return entries, int64(offset) < s.total(ctx, opts.Filter, int64(offset)), nil
}

func (s *Service) total(ctx context.Context, filter audit.Filter, fallback int64) int64 {
	n, err := s.audit.Count(ctx, filter)
	if err != nil {
		return fallback
	}
	return n
}

// GetAggregations groups up to MaxRecords entries in the range by action,
// entity type, user and day
func (s *Service) GetAggregations(ctx context.Context, tenantID string, start, end *time.Time) (*Aggregations, error) {
	entries, truncated, err := s.collect(ctx, audit.QueryOptions{
		Filter:         audit.Filter{TenantID: tenantID, StartDate: start, EndDate: end},
		OrderDirection: audit.OrderDesc,
	}, MaxRecords)
	if err != nil {
		return nil, err
	}

	agg := &Aggregations{
		TenantID:     tenantID,
		Total:        len(entries),
		Truncated:    truncated,
		ByAction:     make(map[string]int64),
		ByEntityType: make(map[string]int64),
		ByUser:       make(map[string]int64),
		ByDay:        make(map[string]int64),
	}
	for _, e := range entries {
		agg.ByAction[string(e.Action)]++
		agg.ByEntityType[string(e.EntityType)]++
		agg.ByUser[e.UserID]++
		agg.ByDay[dayKey(e.Timestamp)]++
	}
	return agg, nil
}

// Search matches term case-insensitively against reason, user name, user
// email, entity id and user id. Most recent entries come first. Only the newest
// MaxRecords entries are scanned; truncated is true when older entries were
// skipped before limit matches were found.
func (s *Service) Search(ctx context.Context, tenantID, term string, limit int) ([]audit.AuditEntry, bool, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, false, models.NewValidationError(models.CodeInvalidInput, "search term is required")
	}
	switch {
	case limit <= 0:
		limit = audit.DefaultLimit
	case limit > audit.MaxLimit:
		limit = audit.MaxLimit
	}

	scanned, capped, err := s.collect(ctx, audit.QueryOptions{
		Filter:         audit.Filter{TenantID: tenantID},
		OrderDirection: audit.OrderDesc,
	}, MaxRecords)
	if err != nil {
		return nil, false, err
	}

	matched := make([]audit.AuditEntry, 0)
	for _, e := range scanned {
		if matchesTerm(e, term) {
			matched = append(matched, e)
			if len(matched) == limit {
				return matched, false, nil
			}
		}
	}
	return matched, capped, nil
}

func matchesTerm(e audit.AuditEntry, term string) bool {
	for _, field := range []string{e.Reason, e.UserName, e.UserEmail, e.EntityID, e.UserID} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// GetDailySummary summarizes the UTC day containing day
func (s *Service) GetDailySummary(ctx context.Context, tenantID string, day time.Time) (*DailySummary, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)

	entries, _, err := s.collect(ctx, audit.QueryOptions{
		Filter:         audit.Filter{TenantID: tenantID, StartDate: &start, EndDate: &end},
		OrderDirection: audit.OrderAsc,
	}, MaxRecords)
	if err != nil {
		return nil, err
	}

	summary := &DailySummary{
		Date:         dayKey(start),
		TenantID:     tenantID,
		TotalEntries: len(entries),
		ByAction:     make(map[string]int64),
		ByEntityType: make(map[string]int64),
	}
	users := make(map[string]struct{})
	for _, e := range entries {
		summary.ByAction[string(e.Action)]++
		summary.ByEntityType[string(e.EntityType)]++
		users[e.UserID] = struct{}{}
		if e.Action == audit.ActionOverride {
			summary.Overrides++
		}
	}
	summary.UniqueUsers = len(users)
	return summary, nil
}

// GetEntityHistory returns the entity's entries oldest first
func (s *Service) GetEntityHistory(ctx context.Context, tenantID string, entityType audit.EntityType, entityID string) ([]audit.AuditEntry, error) {
	entries, err := s.audit.GetEntityHistory(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
