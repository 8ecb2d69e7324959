package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance-core/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding audit entries
const CollectionName = "audit_logs"

// MongoRepository implements the Repository interface using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoRepository creates a new MongoDB-based audit repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
		now:        time.Now,
	}
}

// EnsureIndexes creates the indexes queries and retention rely on
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "entity_type", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "archive_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// Create inserts a single audit entry
func (r *MongoRepository) Create(ctx context.Context, entry AuditEntry) error {
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// CreateMany inserts entries in order
func (r *MongoRepository) CreateMany(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, len(entries))
	for i := range entries {
		docs[i] = entries[i]
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create audit entries: %w", err)
	}
	return nil
}

// FindByID retrieves an entry scoped to a tenant
func (r *MongoRepository) FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error) {
	var entry AuditEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NewNotFoundError(models.CodeAuditEntryNotFound, fmt.Sprintf("audit entry not found: %s", id))
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return &entry, nil
}

// Query returns a page of matching entries and the total match count
func (r *MongoRepository) Query(ctx context.Context, opts QueryOptions) ([]AuditEntry, int64, error) {
	filter := buildFilter(opts.Filter)

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	findOptions := options.Find().SetSort(buildSort(opts.OrderBy, opts.OrderDirection))
	if opts.Limit > 0 {
		findOptions.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOptions.SetSkip(int64(opts.Offset))
	}

	entries, err := r.find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// FindByEntity returns an entity's full history, oldest first
func (r *MongoRepository) FindByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error) {
	filter := buildFilter(Filter{TenantID: tenantID, EntityType: entityType, EntityID: entityID})
	return r.find(ctx, filter, options.Find().SetSort(buildSort("timestamp", OrderAsc)))
}

// Count counts entries matching filter
func (r *MongoRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, buildFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}

// DeleteOlderThan permanently removes entries older than before
func (r *MongoRepository) DeleteOlderThan(ctx context.Context, before time.Time, tenantID string) (int64, error) {
	filter := bson.M{"timestamp": bson.M{"$lt": before}}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	return result.DeletedCount, nil
}

// Archive stamps every unarchived entry in [start, end] with a new archive id
// and returns the stamped entries as the archive payload.
func (r *MongoRepository) Archive(ctx context.Context, start, end time.Time, tenantID string) (*ArchiveResult, error) {
	notArchived := false
	filter := buildFilter(Filter{TenantID: tenantID, StartDate: &start, EndDate: &end, Archived: &notArchived})

	archiveID := uuid.New().String()
	update := bson.M{"$set": bson.M{"archive_id": archiveID, "archived_at": r.now().UTC()}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return nil, fmt.Errorf("failed to archive audit entries: %w", err)
	}

	entries, err := r.find(ctx, bson.M{"archive_id": archiveID}, options.Find().SetSort(buildSort("timestamp", OrderAsc)))
	if err != nil {
		return nil, err
	}

	return &ArchiveResult{
		ArchiveID:     archiveID,
		ArchivedCount: len(entries),
		Entries:       entries,
	}, nil
}

// Unarchive clears the archive stamp, undoing a failed archive run
func (r *MongoRepository) Unarchive(ctx context.Context, archiveID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"archive_id": archiveID},
		bson.M{"$unset": bson.M{"archive_id": "", "archived_at": ""}},
	)
	if err != nil {
		return fmt.Errorf("failed to unarchive audit entries: %w", err)
	}
	return nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M, findOptions *options.FindOptions) ([]AuditEntry, error) {
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []AuditEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return entries, nil
}

// buildFilter builds a MongoDB filter from a query filter
func buildFilter(f Filter) bson.M {
	filter := bson.M{}

	if f.TenantID != "" {
		filter["tenant_id"] = f.TenantID
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.EntityType != "" {
		filter["entity_type"] = f.EntityType
	}
	if f.EntityID != "" {
		filter["entity_id"] = f.EntityID
	}
	if len(f.Actions) > 0 {
		filter["action"] = bson.M{"$in": f.Actions}
	}

	// Date range filter
	if f.StartDate != nil || f.EndDate != nil {
		dateFilter := bson.M{}
		if f.StartDate != nil {
			dateFilter["$gte"] = *f.StartDate
		}
		if f.EndDate != nil {
			dateFilter["$lte"] = *f.EndDate
		}
		filter["timestamp"] = dateFilter
	}

	if f.Archived != nil {
		filter["archive_id"] = bson.M{"$exists": *f.Archived}
	}

	return filter
}

// buildSort maps an order field to its storage key, tie-breaking on _id
func buildSort(orderBy, direction string) bson.D {
	field, ok := orderFields[orderBy]
	if !ok {
		field = "timestamp"
	}
	order := -1
	if direction == OrderAsc {
		order = 1
	}
	return bson.D{{Key: field, Value: order}, {Key: "_id", Value: order}}
}
