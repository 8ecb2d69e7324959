package retention

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BatchCollectionName is the MongoDB collection holding archive batch records
const BatchCollectionName = "archive_batches"

// MongoBatchRepository implements BatchRepository using MongoDB
type MongoBatchRepository struct {
	collection *mongo.Collection
}

// NewMongoBatchRepository creates a new MongoDB-based batch repository
func NewMongoBatchRepository(db *mongo.Database) *MongoBatchRepository {
	return &MongoBatchRepository{collection: db.Collection(BatchCollectionName)}
}

// EnsureIndexes creates the listing and expiry indexes
func (r *MongoBatchRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create archive batch indexes: %w", err)
	}
	return nil
}

func (r *MongoBatchRepository) Create(ctx context.Context, batch ArchiveBatch) error {
	if _, err := r.collection.InsertOne(ctx, batch); err != nil {
		return fmt.Errorf("failed to create archive batch: %w", err)
	}
	return nil
}

func (r *MongoBatchRepository) FindByID(ctx context.Context, id string) (*ArchiveBatch, error) {
	var batch ArchiveBatch
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&batch); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, batchNotFound(id)
		}
		return nil, fmt.Errorf("failed to get archive batch: %w", err)
	}
	return &batch, nil
}

func (r *MongoBatchRepository) List(ctx context.Context, filter BatchFilter) ([]ArchiveBatch, int64, error) {
	query := buildBatchFilter(filter.TenantID)
	if filter.ExpiredBefore != nil {
		query["expires_at"] = bson.M{"$lt": *filter.ExpiredBefore}
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count archive batches: %w", err)
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		findOptions.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		findOptions.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list archive batches: %w", err)
	}
	defer cursor.Close(ctx)

	batches := []ArchiveBatch{}
	if err := cursor.All(ctx, &batches); err != nil {
		return nil, 0, fmt.Errorf("failed to decode archive batches: %w", err)
	}
	return batches, total, nil
}

func (r *MongoBatchRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete archive batch: %w", err)
	}
	if result.DeletedCount == 0 {
		return batchNotFound(id)
	}
	return nil
}

func (r *MongoBatchRepository) Totals(ctx context.Context, tenantID string) (int64, int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: buildBatchFilter(tenantID)}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"bytes": bson.M{"$sum": "$size_bytes"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate archive batches: %w", err)
	}
	defer cursor.Close(ctx)

	var totals []struct {
		Count int64 `bson:"count"`
		Bytes int64 `bson:"bytes"`
	}
	if err := cursor.All(ctx, &totals); err != nil {
		return 0, 0, fmt.Errorf("failed to decode archive batch totals: %w", err)
	}
	if len(totals) == 0 {
		return 0, 0, nil
	}
	return totals[0].Count, totals[0].Bytes, nil
}

// buildBatchFilter includes all-tenant batches, stored with an empty or
// missing tenant_id, in every tenant's view
func buildBatchFilter(tenantID string) bson.M {
	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = bson.M{"$in": bson.A{tenantID, "", nil}}
	}
	return filter
}
