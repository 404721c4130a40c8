package db

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type activityDoc struct {
	URI       string    `bson:"uri"`
	Kind      string    `bson:"kind"`
	ActorURI  string    `bson:"actorUri"`
	ObjectURI string    `bson:"objectUri"`
	RawJSON   string    `bson:"rawJson"`
	Local     bool      `bson:"local"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d *activityDoc) toDomain() *domain.Activity {
	return &domain.Activity{
		URI:       d.URI,
		Kind:      domain.ActivityKind(d.Kind),
		ActorURI:  d.ActorURI,
		ObjectURI: d.ObjectURI,
		RawJSON:   d.RawJSON,
		Local:     d.Local,
		CreatedAt: d.CreatedAt,
	}
}

// PutActivity is insert-only: records are immutable once written so a
// remote peer dereferencing the URI later gets a byte-stable answer.
// Re-inserting a known URI is a no-op.
func (db *DB) PutActivity(ctx context.Context, activity *domain.Activity) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.db.Collection(collActivity).InsertOne(ctx, activityDoc{
		URI:       activity.URI,
		Kind:      string(activity.Kind),
		ActorURI:  activity.ActorURI,
		ObjectURI: activity.ObjectURI,
		RawJSON:   activity.RawJSON,
		Local:     activity.Local,
		CreatedAt: activity.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// ReadActivityByURI serves the object dispatcher endpoint.
func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc activityDoc
	err := db.db.Collection(collActivity).FindOne(ctx, bson.M{"uri": uri}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Resource: "activity"}
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// ReadFollowByActors locates the original Follow record by its (actor,
// object) pair, for Undo processing. The newest such record wins.
func (db *DB) ReadFollowByActors(ctx context.Context, actorURI, objectURI string) (*domain.Activity, error) {
	return db.ReadActivityByKindActors(ctx, domain.KindFollow, actorURI, objectURI)
}

// ReadActivityByKindActors locates the newest activity record of a kind by
// its (actor, object) pair, for Undo processing.
func (db *DB) ReadActivityByKindActors(ctx context.Context, kind domain.ActivityKind, actorURI, objectURI string) (*domain.Activity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var doc activityDoc
	err := db.db.Collection(collActivity).FindOne(ctx, bson.M{
		"kind":      string(kind),
		"actorUri":  actorURI,
		"objectUri": objectURI,
	}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Resource: "activity"}
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}
