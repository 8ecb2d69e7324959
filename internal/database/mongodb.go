package database

import (
	"context"
	"fmt"
	"time"

	"compliance-core/internal/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB represents a MongoDB database connection
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	config   *Config
}

// Config holds the MongoDB configuration
type Config struct {
	URI            string
	DatabaseName   string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
	MaxIdleTime    time.Duration
}

// DefaultConfig returns a default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:            "mongodb://localhost:27017",
		DatabaseName:   "compliance_core",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
		MaxIdleTime:    5 * time.Minute,
	}
}

// ConfigFrom converts the application database settings
func ConfigFrom(cfg config.DatabaseConfig) *Config {
	c := DefaultConfig()
	if cfg.MongoURI != "" {
		c.URI = cfg.MongoURI
	}
	if cfg.Database != "" {
		c.DatabaseName = cfg.Database
	}
	if cfg.ConnectTimeout > 0 {
		c.ConnectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	if cfg.MaxPoolSize > 0 {
		c.MaxPoolSize = uint64(cfg.MaxPoolSize)
		if c.MinPoolSize > c.MaxPoolSize {
			c.MinPoolSize = c.MaxPoolSize
		}
	}
	return c
}

// NewMongoDB creates a new MongoDB connection with the given configuration
func NewMongoDB(config *Config) (*MongoDB, error) {
	if config == nil {
		config = DefaultConfig()
	}

	clientOptions := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize).
		SetMaxConnIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(config.DatabaseName),
		config:   config,
	}, nil
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	if m.Client != nil {
		return m.Client.Disconnect(ctx)
	}
	return nil
}

// Ping pings the MongoDB server to check connectivity
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// IndexEnsurer is implemented by repositories that own their indexes
type IndexEnsurer interface {
	EnsureIndexes(ctx context.Context) error
}

// EnsureIndexes creates the indexes of every repository, stopping at the first failure
func EnsureIndexes(ctx context.Context, repos ...IndexEnsurer) error {
	for _, r := range repos {
		if err := r.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create indexes for %T: %w", r, err)
		}
	}
	return nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	if err := m.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	// Listing collections exercises auth as well as connectivity
	if _, err := m.Database.ListCollectionNames(ctx, map[string]interface{}{}); err != nil {
		return fmt.Errorf("list collections failed: %w", err)
	}

	return nil
}
