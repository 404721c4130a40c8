package domain

import (
	"fmt"
	"time"
)

// Actor is the unified view of a user identity, local or remote.
// ActorURI is the global primary key; its host decides locality.
type Actor struct {
	ActorURI    string
	Username    string
	DisplayName string
	Bio         string
	AvatarURL   string
	FullHandle  string // "@name@host"
	InboxURI    string
	FollowersURI string
	FollowingURI string
	PublicKeyPem string
	IsLocal      bool
}

// Account is a local actor as stored, bound to an external OAuth subject.
// Accounts are created once per subject and never deleted.
type Account struct {
	Subject       string // stable external subject id
	Username      string
	DisplayName   string
	Bio           string
	AvatarURL     string
	ActorURI      string
	WebPublicKey  string
	WebPrivateKey string
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tSubject: %s \n\tUsername: %s \n\tActorURI: %s \n\tCreatedAt: %s)", acc.Subject, acc.Username, acc.ActorURI, acc.CreatedAt)
}

// Follower is an edge on the target's side: followerURI follows actorURI.
// Unique per (ActorURI, FollowerURI) pair.
type Follower struct {
	ActorURI    string // the target being followed
	FollowerURI string
	InboxURI    string
	CreatedAt   time.Time
}

// Following is the mirror edge on the follower's side.
type Following struct {
	ActorURI    string // the local follower
	FolloweeURI string
	InboxURI    string
	CreatedAt   time.Time
}
