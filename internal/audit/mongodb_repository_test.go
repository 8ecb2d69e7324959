package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("COMPLIANCE_TEST_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	db := client.Database("compliance_audit_test")
	require.NoError(t, db.Drop(context.Background()))

	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return db
}

func TestBuildFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	archived := false

	filter := buildFilter(Filter{
		TenantID:   "t1",
		EntityType: EntityRental,
		Actions:    []Action{ActionCreate},
		StartDate:  &start,
		Archived:   &archived,
	})

	assert.Equal(t, "t1", filter["tenant_id"])
	assert.Equal(t, EntityRental, filter["entity_type"])
	assert.Equal(t, bson.M{"$in": []Action{ActionCreate}}, filter["action"])
	assert.Equal(t, bson.M{"$gte": start}, filter["timestamp"])
	assert.Equal(t, bson.M{"$exists": false}, filter["archive_id"])
	assert.NotContains(t, filter, "user_id")
}

func TestBuildSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "entity_type", Value: 1}, {Key: "_id", Value: 1}}, buildSort("entityType", OrderAsc))
	assert.Equal(t, bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}, buildSort("bogus", OrderDesc))
}

func TestMongoRepository_CreateQueryAndArchive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMongoRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	seedEntries(t, repo, now)

	entries, total, err := repo.Query(ctx, QueryOptions{Filter: Filter{TenantID: "t1"}, OrderBy: "timestamp", OrderDirection: OrderAsc, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids(entries))

	result, err := repo.Archive(ctx, now.Add(-4*time.Hour), now.Add(-100*time.Minute), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ArchivedCount)

	archived := true
	n, err := repo.Count(ctx, Filter{TenantID: "t1", Archived: &archived})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.Unarchive(ctx, result.ArchiveID))
	n, err = repo.Count(ctx, Filter{TenantID: "t1", Archived: &archived})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-150*time.Minute), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestMongoRepository_FindByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMongoRepository(db)
	ctx := context.Background()

	entry := AuditEntry{
		ID:         "entry-1",
		TenantID:   "t1",
		UserID:     "user123",
		Action:     ActionRead,
		EntityType: EntityCustomer,
		EntityID:   "c-1",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Metadata:   map[string]interface{}{"fieldsAccessed": []interface{}{"email"}},
	}
	require.NoError(t, repo.Create(ctx, entry))

	got, err := repo.FindByID(ctx, "entry-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, entry.EntityID, got.EntityID)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))

	_, err = repo.FindByID(ctx, "entry-1", "t2")
	assert.Error(t, err)
}
