package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pachygram/util"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DB is the document store handle. The underlying store guarantees
// per-document atomicity only; no cross-collection transactions are used.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

const (
	collAccounts  = "accounts"
	collFollowers = "followers"
	collFollowing = "following"
	collPosts     = "posts"
	collActivity  = "activities"

	opTimeout = 5 * time.Second
)

// Connect opens the Mongo connection, pings it and ensures indexes.
func Connect(conf *util.AppConfig) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Conf.MongoUri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	database := &DB{client: client, db: client.Database(conf.Conf.MongoDb)}

	if err := database.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	log.Printf("DB: Connected to %s (database %s)", conf.Conf.MongoUri, conf.Conf.MongoDb)
	return database, nil
}

func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// withTimeout caps a single store call so a stuck replica cannot hang a request.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}
