package db

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type followerDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ActorURI    string             `bson:"actorUri"`
	FollowerURI string             `bson:"followerUri"`
	InboxURI    string             `bson:"inboxUri"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

type followingDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ActorURI    string             `bson:"actorUri"`
	FolloweeURI string             `bson:"followeeUri"`
	InboxURI    string             `bson:"inboxUri"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

// AddFollower records the follower edge on the target's side. Returns false
// if the exact edge already exists (the caller surfaces Conflict).
func (db *DB) AddFollower(ctx context.Context, actorURI, followerURI, followerInbox string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.db.Collection(collFollowers).InsertOne(ctx, followerDoc{
		ActorURI:    actorURI,
		FollowerURI: followerURI,
		InboxURI:    followerInbox,
		CreatedAt:   time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFollower deletes the edge; false if it did not exist.
func (db *DB) RemoveFollower(ctx context.Context, actorURI, followerURI string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := db.db.Collection(collFollowers).DeleteOne(ctx, bson.M{"actorUri": actorURI, "followerUri": followerURI})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// AddFollowing records the mirror edge on the follower's side.
func (db *DB) AddFollowing(ctx context.Context, actorURI, followeeURI, followeeInbox string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.db.Collection(collFollowing).InsertOne(ctx, followingDoc{
		ActorURI:    actorURI,
		FolloweeURI: followeeURI,
		InboxURI:    followeeInbox,
		CreatedAt:   time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) RemoveFollowing(ctx context.Context, actorURI, followeeURI string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := db.db.Collection(collFollowing).DeleteOne(ctx, bson.M{"actorUri": actorURI, "followeeUri": followeeURI})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// IsFollowing reports existence of the Following edge (a -> b).
func (db *DB) IsFollowing(ctx context.Context, actorURI, followeeURI string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := db.db.Collection(collFollowing).
		FindOne(ctx, bson.M{"actorUri": actorURI, "followeeUri": followeeURI}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListFollowers pages the follower edges newest-first. cursorKey is the hex
// insertion-order key of the last edge of the previous page ("" = start).
func (db *DB) ListFollowers(ctx context.Context, actorURI, cursorKey string, limit int) ([]domain.Follower, string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{"actorUri": actorURI}
	if err := applyCursor(filter, cursorKey); err != nil {
		return nil, "", false, err
	}

	// Fetch one extra row to decide whether this is the last page.
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit) + 1)
	cur, err := db.db.Collection(collFollowers).Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cur.Close(ctx)

	var docs []followerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", false, err
	}

	isLast := len(docs) <= limit
	if !isLast {
		docs = docs[:limit]
	}

	edges := make([]domain.Follower, 0, len(docs))
	nextKey := ""
	for _, d := range docs {
		edges = append(edges, domain.Follower{
			ActorURI:    d.ActorURI,
			FollowerURI: d.FollowerURI,
			InboxURI:    d.InboxURI,
			CreatedAt:   d.CreatedAt,
		})
		nextKey = d.ID.Hex()
	}
	return edges, nextKey, isLast, nil
}

// ListFollowing is the mirror pager over the following relation.
func (db *DB) ListFollowing(ctx context.Context, actorURI, cursorKey string, limit int) ([]domain.Following, string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{"actorUri": actorURI}
	if err := applyCursor(filter, cursorKey); err != nil {
		return nil, "", false, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit) + 1)
	cur, err := db.db.Collection(collFollowing).Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cur.Close(ctx)

	var docs []followingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", false, err
	}

	isLast := len(docs) <= limit
	if !isLast {
		docs = docs[:limit]
	}

	edges := make([]domain.Following, 0, len(docs))
	nextKey := ""
	for _, d := range docs {
		edges = append(edges, domain.Following{
			ActorURI:    d.ActorURI,
			FolloweeURI: d.FolloweeURI,
			InboxURI:    d.InboxURI,
			CreatedAt:   d.CreatedAt,
		})
		nextKey = d.ID.Hex()
	}
	return edges, nextKey, isLast, nil
}

// ListAllFollowing enumerates the full following set of one actor, for the
// feed fan-in (bounded, typically small).
func (db *DB) ListAllFollowing(ctx context.Context, actorURI string) ([]domain.Following, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, err := db.db.Collection(collFollowing).Find(ctx, bson.M{"actorUri": actorURI})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []followingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	edges := make([]domain.Following, 0, len(docs))
	for _, d := range docs {
		edges = append(edges, domain.Following{
			ActorURI:    d.ActorURI,
			FolloweeURI: d.FolloweeURI,
			InboxURI:    d.InboxURI,
			CreatedAt:   d.CreatedAt,
		})
	}
	return edges, nil
}

// ListAllFollowers enumerates every follower edge of one actor, for the
// Create fan-out to remote inboxes.
func (db *DB) ListAllFollowers(ctx context.Context, actorURI string) ([]domain.Follower, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, err := db.db.Collection(collFollowers).Find(ctx, bson.M{"actorUri": actorURI})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []followerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	edges := make([]domain.Follower, 0, len(docs))
	for _, d := range docs {
		edges = append(edges, domain.Follower{
			ActorURI:    d.ActorURI,
			FollowerURI: d.FollowerURI,
			InboxURI:    d.InboxURI,
			CreatedAt:   d.CreatedAt,
		})
	}
	return edges, nil
}

func (db *DB) CountFollowers(ctx context.Context, actorURI string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return db.db.Collection(collFollowers).CountDocuments(ctx, bson.M{"actorUri": actorURI})
}

func (db *DB) CountFollowing(ctx context.Context, actorURI string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return db.db.Collection(collFollowing).CountDocuments(ctx, bson.M{"actorUri": actorURI})
}

// ListLocalFollowersOf returns the local accounts whose following edges
// point at the given (typically remote) actor, in no particular order.
func (db *DB) ListLocalFollowersOf(ctx context.Context, followeeURI string) ([]domain.Account, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, err := db.db.Collection(collFollowing).Find(ctx, bson.M{"followeeUri": followeeURI})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var actorURIs []string
	for cur.Next(ctx) {
		var doc followingDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		actorURIs = append(actorURIs, doc.ActorURI)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(actorURIs) == 0 {
		return nil, nil
	}

	accCur, err := db.db.Collection(collAccounts).Find(ctx, bson.M{"actorUri": bson.M{"$in": actorURIs}})
	if err != nil {
		return nil, err
	}
	defer accCur.Close(ctx)

	var accounts []domain.Account
	for accCur.Next(ctx) {
		var doc accountDoc
		if err := accCur.Decode(&doc); err != nil {
			return nil, err
		}
		accounts = append(accounts, *doc.toDomain())
	}
	return accounts, accCur.Err()
}

// applyCursor adds the insertion-order lower bound to a list filter.
func applyCursor(filter bson.M, cursorKey string) error {
	if cursorKey == "" {
		return nil
	}
	oid, err := primitive.ObjectIDFromHex(cursorKey)
	if err != nil {
		return &domain.ValidationError{Reason: "malformed cursor key"}
	}
	filter["_id"] = bson.M{"$lt": oid}
	return nil
}
