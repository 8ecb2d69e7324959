package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntries(t *testing.T, repo Repository, base time.Time) {
	t.Helper()
	entries := []AuditEntry{
		{ID: "e1", TenantID: "t1", UserID: "alice", Action: ActionCreate, EntityType: EntityRental, EntityID: "r-1", Timestamp: base.Add(-3 * time.Hour)},
		{ID: "e2", TenantID: "t1", UserID: "bob", Action: ActionUpdate, EntityType: EntityRental, EntityID: "r-1", Timestamp: base.Add(-2 * time.Hour)},
		{ID: "e3", TenantID: "t1", UserID: "alice", Action: ActionDelete, EntityType: EntityInvoice, EntityID: "i-1", Timestamp: base.Add(-1 * time.Hour)},
		{ID: "e4", TenantID: "t2", UserID: "carol", Action: ActionCreate, EntityType: EntityRental, EntityID: "r-9", Timestamp: base.Add(-90 * time.Minute)},
	}
	require.NoError(t, repo.CreateMany(context.Background(), entries))
}

func TestMemoryRepository_QueryOrderingAndTenantScope(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo, time.Now())
	ctx := context.Background()

	entries, total, err := repo.Query(ctx, QueryOptions{Filter: Filter{TenantID: "t1"}, OrderBy: "timestamp", OrderDirection: OrderAsc, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(entries))

	entries, _, err = repo.Query(ctx, QueryOptions{Filter: Filter{TenantID: "t1"}, OrderBy: "userId", OrderDirection: OrderDesc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Len(t, entries, 2)

	entries, total, err = repo.Query(ctx, QueryOptions{Filter: Filter{TenantID: "t1", Actions: []Action{ActionCreate, ActionDelete}}, Offset: 1, Limit: 10, OrderDirection: OrderAsc})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"e3"}, ids(entries))
}

func TestMemoryRepository_FindByIDIsTenantScoped(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo, time.Now())

	_, err := repo.FindByID(context.Background(), "e4", "t1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	entry, err := repo.FindByID(context.Background(), "e4", "t2")
	require.NoError(t, err)
	assert.Equal(t, "carol", entry.UserID)
}

func TestMemoryRepository_ArchiveAndUnarchive(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	seedEntries(t, repo, now)
	ctx := context.Background()

	result, err := repo.Archive(ctx, now.Add(-4*time.Hour), now.Add(-100*time.Minute), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ArchivedCount)
	assert.Equal(t, []string{"e1", "e2"}, ids(result.Entries))
	assert.Equal(t, result.ArchiveID, result.Entries[0].ArchiveID)

	archived := true
	n, err := repo.Count(ctx, Filter{TenantID: "t1", Archived: &archived})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	again, err := repo.Archive(ctx, now.Add(-4*time.Hour), now.Add(-100*time.Minute), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.ArchivedCount)

	require.NoError(t, repo.Unarchive(ctx, result.ArchiveID))
	n, err = repo.Count(ctx, Filter{TenantID: "t1", Archived: &archived})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryRepository_DeleteOlderThan(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	seedEntries(t, repo, now)
	ctx := context.Background()

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-80*time.Minute), "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = repo.DeleteOlderThan(ctx, now.Add(-150*time.Minute), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryRepository_FindByEntityAscending(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo, time.Now())

	history, err := repo.FindByEntity(context.Background(), "t1", EntityRental, "r-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids(history))
}

func TestMemoryRepository_DuplicateID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, AuditEntry{ID: "x", TenantID: "t1"}))
	assert.Error(t, repo.Create(ctx, AuditEntry{ID: "x", TenantID: "t1"}))
}

func ids(entries []AuditEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
