package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"compliance-core/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultBucketName is the GridFS bucket used when none is configured
const DefaultBucketName = "audit_archives"

// GridFSStorage stores archive payloads in a MongoDB GridFS bucket. The batch
// id is the file id.
type GridFSStorage struct {
	db   *mongo.Database
	name string
}

// NewGridFSStorage creates a storage backed by the named bucket
func NewGridFSStorage(db *mongo.Database, bucketName string) *GridFSStorage {
	if bucketName == "" {
		bucketName = DefaultBucketName
	}
	return &GridFSStorage{db: db, name: bucketName}
}

// bucket returns a bucket handle bounded by the context deadline. Deadlines
// are per handle, so each call gets its own.
func (s *GridFSStorage) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.name))
	if err != nil {
		return nil, models.NewStorageError("failed to open archive bucket", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		b.SetReadDeadline(deadline)
		b.SetWriteDeadline(deadline)
	}
	return b, nil
}

func (s *GridFSStorage) path(batchID string) string {
	return "gridfs://" + s.name + "/" + batchID
}

func (s *GridFSStorage) fileID(path string) (string, error) {
	id, ok := strings.CutPrefix(path, "gridfs://"+s.name+"/")
	if !ok || id == "" {
		return "", models.NewStorageError(fmt.Sprintf("storage path %q does not belong to bucket %s", path, s.name), nil)
	}
	return id, nil
}

func (s *GridFSStorage) Store(ctx context.Context, batchID string, payload []byte, compressed bool) (string, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return "", err
	}

	filename := batchID + ".json"
	if compressed {
		filename += ".gz"
	}
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{"compressed": compressed})
	if err := b.UploadFromStreamWithID(batchID, filename, bytes.NewReader(payload), uploadOpts); err != nil {
		return "", models.NewStorageError(fmt.Sprintf("failed to store archive batch %s", batchID), err)
	}
	return s.path(batchID), nil
}

func (s *GridFSStorage) Retrieve(ctx context.Context, path string) ([]byte, error) {
	id, err := s.fileID(path)
	if err != nil {
		return nil, err
	}
	b, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := b.DownloadToStream(id, &buf); err != nil {
		return nil, models.NewStorageError(fmt.Sprintf("failed to retrieve archive %s", path), err)
	}
	return buf.Bytes(), nil
}

func (s *GridFSStorage) Delete(ctx context.Context, path string) error {
	id, err := s.fileID(path)
	if err != nil {
		return err
	}
	b, err := s.bucket(ctx)
	if err != nil {
		return err
	}

	if err := b.Delete(id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return models.NewStorageError(fmt.Sprintf("failed to delete archive %s", path), err)
	}
	return nil
}

func (s *GridFSStorage) GetSize(ctx context.Context, path string) (int64, error) {
	id, err := s.fileID(path)
	if err != nil {
		return 0, err
	}

	var file struct {
		Length int64 `bson:"length"`
	}
	err = s.db.Collection(s.name+".files").FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err != nil {
		return 0, models.NewStorageError(fmt.Sprintf("failed to stat archive %s", path), err)
	}
	return file.Length, nil
}
