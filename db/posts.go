package db

import (
	"context"
	"errors"

	"github.com/deemkeen/pachygram/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type postDoc struct {
	URI        string   `bson:"uri"`
	UserHandle string   `bson:"userHandle"`
	MediaURL   string   `bson:"mediaUrl"`
	MediaType  string   `bson:"mediaType"`
	Caption    string   `bson:"caption"`
	LikedBy    []string `bson:"likedBy"`
	Timestamp  int64    `bson:"timestamp"`
}

func (d *postDoc) toDomain() domain.Post {
	return domain.Post{
		URI:        d.URI,
		UserHandle: d.UserHandle,
		MediaURL:   d.MediaURL,
		MediaType:  d.MediaType,
		Caption:    d.Caption,
		LikedBy:    d.LikedBy,
		Timestamp:  d.Timestamp,
	}
}

// CreatePost stores a post if its URI is not already known. Remote Create
// activities can be re-delivered, so the duplicate case is a silent no-op.
func (db *DB) CreatePost(ctx context.Context, post *domain.Post) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	likedBy := post.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}

	_, err := db.db.Collection(collPosts).InsertOne(ctx, postDoc{
		URI:        post.URI,
		UserHandle: post.UserHandle,
		MediaURL:   post.MediaURL,
		MediaType:  post.MediaType,
		Caption:    post.Caption,
		LikedBy:    likedBy,
		Timestamp:  post.Timestamp,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (db *DB) ReadPostByURI(ctx context.Context, uri string) (*domain.Post, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc postDoc
	err := db.db.Collection(collPosts).FindOne(ctx, bson.M{"uri": uri}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Resource: "post"}
	}
	if err != nil {
		return nil, err
	}
	post := doc.toDomain()
	return &post, nil
}

// ReadPostsByAuthorBefore fetches up to limit posts of one author with
// timestamp strictly below the bound, newest first. This is the per-followee
// sub-page of the feed fan-in.
func (db *DB) ReadPostsByAuthorBefore(ctx context.Context, userHandle string, before int64, limit int) ([]domain.Post, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cur, err := db.db.Collection(collPosts).Find(ctx,
		bson.M{"userHandle": userHandle, "timestamp": bson.M{"$lt": before}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []postDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, len(docs))
	for i := range docs {
		posts = append(posts, docs[i].toDomain())
	}
	return posts, nil
}

func (db *DB) CountPostsByHandle(ctx context.Context, userHandle string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return db.db.Collection(collPosts).CountDocuments(ctx, bson.M{"userHandle": userHandle})
}

// ToggleLike adds the actor to the post's likedBy set, or removes it if
// already present. Returns the resulting liked state and like count. The
// flip happens in one FindOneAndUpdate so concurrent toggles by the same
// actor cannot race between a read and a write.
func (db *DB) ToggleLike(ctx context.Context, postURI, actorURI string) (bool, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := db.db.Collection(collPosts).FindOneAndUpdate(ctx,
		bson.M{"uri": postURI}, toggleLikeUpdate(actorURI), opts)

	var doc postDoc
	err := res.Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, 0, &domain.NotFoundError{Resource: "post"}
	}
	if err != nil {
		return false, 0, err
	}

	for _, uri := range doc.LikedBy {
		if uri == actorURI {
			return true, len(doc.LikedBy), nil
		}
	}
	return false, len(doc.LikedBy), nil
}

// toggleLikeUpdate builds the aggregation-pipeline update that removes the
// actor from likedBy when present and appends it otherwise, atomically on
// the server.
func toggleLikeUpdate(actorURI string) bson.A {
	existing := bson.M{"$ifNull": bson.A{"$likedBy", bson.A{}}}
	return bson.A{
		bson.M{"$set": bson.M{
			"likedBy": bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{actorURI, existing}},
				bson.M{"$setDifference": bson.A{existing, bson.A{actorURI}}},
				bson.M{"$concatArrays": bson.A{existing, bson.A{actorURI}}},
			}},
		}},
	}
}

// AddLike is the inbound federation path: idempotently records a remote
// actor's like.
func (db *DB) AddLike(ctx context.Context, postURI, actorURI string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := db.db.Collection(collPosts).UpdateOne(ctx,
		bson.M{"uri": postURI},
		bson.M{"$addToSet": bson.M{"likedBy": actorURI}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return &domain.NotFoundError{Resource: "post"}
	}
	return nil
}
