package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding deletion requests
const CollectionName = "deletion_requests"

// MongoRepository implements Repository using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoRepository creates a new MongoDB-based deletion request repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
		now:        time.Now,
	}
}

// EnsureIndexes creates the request lookup indexes
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "subject_id", Value: 1},
			},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create deletion request indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, req DeletionRequest) error {
	if req.DeletionLog == nil {
		req.DeletionLog = []LogEntry{}
	}
	if _, err := r.collection.InsertOne(ctx, req); err != nil {
		return fmt.Errorf("failed to create deletion request: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id, tenantID string) (*DeletionRequest, error) {
	var req DeletionRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, requestNotFound(id)
		}
		return nil, fmt.Errorf("failed to get deletion request: %w", err)
	}
	return &req, nil
}

// UpdateStatus applies the transition atomically. With ExpectedStatus set the
// status is part of the match, so two instances cannot both claim a request.
func (r *MongoRepository) UpdateStatus(ctx context.Context, id, tenantID string, status Status, update StatusUpdate) (*DeletionRequest, error) {
	filter := bson.M{"_id": id, "tenant_id": tenantID}
	if update.ExpectedStatus != "" {
		filter["status"] = update.ExpectedStatus
	}

	set := bson.M{"status": status, "updated_at": r.now().UTC()}
	if update.Error != "" {
		set["error"] = update.Error
	}
	if update.Tally != nil {
		set["deleted_entities"] = update.Tally.DeletedEntities
		set["anonymized_entities"] = update.Tally.AnonymizedEntities
		set["soft_deleted_entities"] = update.Tally.SoftDeletedEntities
		set["retained_entities"] = update.Tally.RetainedEntities
		set["failed_entities"] = update.Tally.FailedEntities
	}
	if update.StartedAt != nil {
		set["started_at"] = *update.StartedAt
	}
	if update.CompletedAt != nil {
		set["completed_at"] = *update.CompletedAt
	}

	change := bson.M{"$set": set}
	if len(update.LogEntries) > 0 {
		change["$push"] = bson.M{"deletion_log": bson.M{"$each": update.LogEntries}}
	}

	var req DeletionRequest
	err := r.collection.FindOneAndUpdate(ctx, filter, change,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&req)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update deletion request: %w", err)
		}
		current, findErr := r.FindByID(ctx, id, tenantID)
		if findErr != nil {
			return nil, findErr
		}
		return nil, statusMismatch(id, current.Status, update.ExpectedStatus)
	}
	return &req, nil
}

func (r *MongoRepository) Query(ctx context.Context, filter ListFilter) ([]DeletionRequest, int64, error) {
	query := bson.M{"tenant_id": filter.TenantID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.EntityType != "" {
		query["entity_type"] = filter.EntityType
	}
	if filter.SubjectID != "" {
		query["subject_id"] = filter.SubjectID
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count deletion requests: %w", err)
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
		return nil, 0, fmt.Errorf("failed to list deletion requests: %w", err)
	}
	defer cursor.Close(ctx)

	requests := []DeletionRequest{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, 0, fmt.Errorf("failed to decode deletion requests: %w", err)
	}
	return requests, total, nil
}
