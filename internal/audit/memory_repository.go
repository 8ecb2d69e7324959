package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"compliance-core/internal/models"

	"github.com/google/uuid"
)

// MemoryRepository keeps audit entries in process memory. It backs tests and
// single-node development runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]AuditEntry
	order   []string
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]AuditEntry),
		now:     time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, entry AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.ID]; exists {
		return fmt.Errorf("failed to create audit entry: duplicate id %s", entry.ID)
	}
	r.entries[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	return nil
}

func (r *MemoryRepository) CreateMany(ctx context.Context, entries []AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if _, exists := r.entries[e.ID]; exists {
			return fmt.Errorf("failed to create audit entries: duplicate id %s", e.ID)
		}
	}
	for _, e := range entries {
		r.entries[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok || entry.TenantID != tenantID {
		return nil, models.NewNotFoundError(models.CodeAuditEntryNotFound, fmt.Sprintf("audit entry not found: %s", id))
	}
	return &entry, nil
}

func (r *MemoryRepository) Query(ctx context.Context, opts QueryOptions) ([]AuditEntry, int64, error) {
	r.mu.RLock()
	matched := r.filterLocked(opts.Filter)
	r.mu.RUnlock()

	sortEntries(matched, opts.OrderBy, opts.OrderDirection)

	total := int64(len(matched))
	if opts.Offset >= len(matched) {
		return []AuditEntry{}, total, nil
	}
	end := len(matched)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return matched[opts.Offset:end], total, nil
}

func (r *MemoryRepository) FindByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error) {
	r.mu.RLock()
	matched := r.filterLocked(Filter{TenantID: tenantID, EntityType: entityType, EntityID: entityID})
	r.mu.RUnlock()

	sortEntries(matched, "timestamp", OrderAsc)
	return matched, nil
}

func (r *MemoryRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.filterLocked(filter))), nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, before time.Time, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.entries[id]
		if e.Timestamp.Before(before) && (tenantID == "" || e.TenantID == tenantID) {
			delete(r.entries, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return deleted, nil
}

func (r *MemoryRepository) Archive(ctx context.Context, start, end time.Time, tenantID string) (*ArchiveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notArchived := false
	matched := r.filterLocked(Filter{TenantID: tenantID, StartDate: &start, EndDate: &end, Archived: &notArchived})
	result := &ArchiveResult{ArchiveID: uuid.New().String(), ArchivedCount: len(matched)}
	if len(matched) == 0 {
		result.Entries = []AuditEntry{}
		return result, nil
	}

	archivedAt := r.now().UTC()
	for i := range matched {
		matched[i].ArchiveID = result.ArchiveID
		matched[i].ArchivedAt = &archivedAt
		r.entries[matched[i].ID] = matched[i]
	}
	sortEntries(matched, "timestamp", OrderAsc)
	result.Entries = matched
	return result, nil
}

func (r *MemoryRepository) Unarchive(ctx context.Context, archiveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if e.ArchiveID == archiveID {
			e.ArchiveID = ""
			e.ArchivedAt = nil
			r.entries[id] = e
		}
	}
	return nil
}

func (r *MemoryRepository) filterLocked(f Filter) []AuditEntry {
	out := make([]AuditEntry, 0)
	for _, id := range r.order {
		e := r.entries[id]
		if matches(e, f) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e AuditEntry, f Filter) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.Archived != nil && (e.ArchiveID != "") != *f.Archived {
		return false
	}
	return true
}

func sortEntries(entries []AuditEntry, orderBy, direction string) {
	compare := func(a, b AuditEntry) int {
		switch orderBy {
		case "action":
			return compareStrings(string(a.Action), string(b.Action))
		case "entityType":
			return compareStrings(string(a.EntityType), string(b.EntityType))
		case "userId":
			return compareStrings(a.UserID, b.UserID)
		case "entityId":
			return compareStrings(a.EntityID, b.EntityID)
		default:
			return a.Timestamp.Compare(b.Timestamp)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		c := compare(entries[i], entries[j])
		if direction == OrderAsc {
			return c < 0
		}
		return c > 0
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
