package db

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type accountDoc struct {
	Subject       string    `bson:"subject"`
	Username      string    `bson:"username"`
	DisplayName   string    `bson:"displayName"`
	Bio           string    `bson:"bio"`
	AvatarURL     string    `bson:"avatarUrl"`
	ActorURI      string    `bson:"actorUri"`
	WebPublicKey  string    `bson:"webPublicKey"`
	WebPrivateKey string    `bson:"webPrivateKey"`
	CreatedAt     time.Time `bson:"createdAt"`
}

func toAccountDoc(acc *domain.Account) *accountDoc {
	return &accountDoc{
		Subject:       acc.Subject,
		Username:      acc.Username,
		DisplayName:   acc.DisplayName,
		Bio:           acc.Bio,
		AvatarURL:     acc.AvatarURL,
		ActorURI:      acc.ActorURI,
		WebPublicKey:  acc.WebPublicKey,
		WebPrivateKey: acc.WebPrivateKey,
		CreatedAt:     acc.CreatedAt,
	}
}

func (d *accountDoc) toDomain() *domain.Account {
	return &domain.Account{
		Subject:       d.Subject,
		Username:      d.Username,
		DisplayName:   d.DisplayName,
		Bio:           d.Bio,
		AvatarURL:     d.AvatarURL,
		ActorURI:      d.ActorURI,
		WebPublicKey:  d.WebPublicKey,
		WebPrivateKey: d.WebPrivateKey,
		CreatedAt:     d.CreatedAt,
	}
}

// CreateAccount mints a local actor record. A second registration for the
// same subject or username is a conflict.
func (db *DB) CreateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.db.Collection(collAccounts).InsertOne(ctx, toAccountDoc(acc))
	if mongo.IsDuplicateKeyError(err) {
		return &domain.ConflictError{Reason: "account already registered"}
	}
	return err
}

func (db *DB) ReadAccountBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	return db.readAccount(ctx, bson.M{"subject": subject})
}

func (db *DB) ReadAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return db.readAccount(ctx, bson.M{"username": username})
}

func (db *DB) ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error) {
	return db.readAccount(ctx, bson.M{"actorUri": actorURI})
}

func (db *DB) readAccount(ctx context.Context, filter bson.M) (*domain.Account, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc accountDoc
	err := db.db.Collection(collAccounts).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Resource: "account"}
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// UpdateAccountProfile updates display name, bio and avatar in place.
// Actors are never deleted in this design.
func (db *DB) UpdateAccountProfile(ctx context.Context, subject, displayName, bio, avatarURL string) (*domain.Account, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := db.db.Collection(collAccounts).UpdateOne(ctx,
		bson.M{"subject": subject},
		bson.M{"$set": bson.M{"displayName": displayName, "bio": bio, "avatarUrl": avatarURL}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, &domain.NotFoundError{Resource: "account"}
	}
	return db.ReadAccountBySubject(ctx, subject)
}
