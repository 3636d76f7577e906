package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/config"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/utils"
)

const (
	defaultCollection       = "images"
	defaultOperationTimeout = 5 * time.Second
)

// MongoStore persists records in one collection keyed by record id.
type MongoStore struct {
	client           *mongo.Client
	images           *mongo.Collection
	operationTimeout time.Duration
}

// BuildURI builds the connection string with escaped credentials.
func BuildURI(cfg config.DatabaseConfig) string {
	if cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", cfg.Host, cfg.Port)
	}
	// escape reserved characters
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port,
	)
}

func clientOptions(cfg config.DatabaseConfig, appName string) *options.ClientOptions {
	clientOptions := options.Client().ApplyURI(BuildURI(cfg)).SetAppName(appName)
	// pool
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	if d := utils.ParseStringTimeOr(cfg.ConnectIdleTimeout, 0); d > 0 {
		clientOptions.SetMaxConnIdleTime(d)
	}
	// timeouts
	if d := utils.ParseStringTimeOr(cfg.ConnectTimeout, 0); d > 0 {
		clientOptions.SetConnectTimeout(d)
	}
	if d := utils.ParseStringTimeOr(cfg.SocketTimeout, 0); d > 0 {
		clientOptions.SetSocketTimeout(d)
	}
	// heartbeat
	if d := utils.ParseStringTimeOr(cfg.Heartbeat, 0); d > 0 {
		clientOptions.SetHeartbeatInterval(d)
	}
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	// pool monitor
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s", evt.Address)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s, reason %s", evt.Address, evt.Reason)
			}
		},
	})
	return clientOptions
}

// ConnectMongo connects, pings and prepares the image collection.
func ConnectMongo(ctx context.Context, cfg config.DatabaseConfig, appName string) (*MongoStore, error) {
	logger.DebugF("Connecting to database...")
	client, err := mongo.Connect(ctx, clientOptions(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	// verify the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	ms := &MongoStore{
		client:           client,
		images:           client.Database(cfg.Database).Collection(collection),
		operationTimeout: utils.ParseStringTimeOr(cfg.OperationTimeout, defaultOperationTimeout),
	}

	_, err = ms.images.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "received_at", Value: -1}},
		Options: options.Index().SetName("images_received_at"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}
	logger.InfoF("Database connected, collection %s.%s", cfg.Database, collection)
	return ms, nil
}

func (ms *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ms.operationTimeout)
}

func handleErr(err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("unique key conflicts: %w", err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("database operation failed: %w", err)
	}
}

func (ms *MongoStore) Save(ctx context.Context, record dispatch.Record) error {
	if record.ID == "" {
		return ErrIDEmpty
	}
	ctx, cancel := ms.withTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "_id", Value: record.ID}}
	result, err := ms.images.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	if err != nil {
		return handleErr(err)
	}
	logger.DebugF("Record saved: id=%s, matched=%d, modified=%d, upserted=%v",
		record.ID, result.MatchedCount, result.ModifiedCount, result.UpsertedID != nil)
	return nil
}

func (ms *MongoStore) Get(ctx context.Context, id string) (dispatch.Record, error) {
	var record dispatch.Record
	if id == "" {
		return record, ErrIDEmpty
	}
	ctx, cancel := ms.withTimeout(ctx)
	defer cancel()

	startTime := time.Now()
	err := ms.images.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&record)
	logger.DebugF("record query cost: %v", time.Since(startTime))
	if err != nil {
		return record, handleErr(err)
	}
	return record, nil
}

func (ms *MongoStore) List(ctx context.Context, limit int) ([]dispatch.Record, error) {
	ctx, cancel := ms.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := ms.images.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, handleErr(err)
	}
	records := make([]dispatch.Record, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, handleErr(err)
	}
	return records, nil
}

func (ms *MongoStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDEmpty
	}
	ctx, cancel := ms.withTimeout(ctx)
	defer cancel()

	result, err := ms.images.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return handleErr(err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	logger.DebugF("Record deleted: id=%s", id)
	return nil
}

// Invoke disconnects the client; it lets the store be registered with the
// shutdown cleaner.
func (ms *MongoStore) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := ms.withTimeout(ctx)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
