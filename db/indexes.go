package db

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the unique and query indexes the stores rely on.
// Edge idempotency is enforced by the unique (actor, counterpart) indexes;
// duplicate inserts surface as mongo duplicate-key errors.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	log.Println("DB: Ensuring indexes...")

	unique := options.Index().SetUnique(true)

	indexes := map[string][]mongo.IndexModel{
		collAccounts: {
			{Keys: bson.D{{Key: "subject", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "actorUri", Value: 1}}, Options: unique},
		},
		collFollowers: {
			{Keys: bson.D{{Key: "actorUri", Value: 1}, {Key: "followerUri", Value: 1}}, Options: unique},
		},
		collFollowing: {
			{Keys: bson.D{{Key: "actorUri", Value: 1}, {Key: "followeeUri", Value: 1}}, Options: unique},
		},
		collPosts: {
			{Keys: bson.D{{Key: "uri", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "userHandle", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		collActivity: {
			{Keys: bson.D{{Key: "uri", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "actorUri", Value: 1}, {Key: "objectUri", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := db.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}

	log.Println("DB: Indexes ready")
	return nil
}
