package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
	"github.com/google/uuid"
)

// Store is the slice of the document store the federation service mutates.
type Store interface {
	ReadAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error)
	AddFollower(ctx context.Context, actorURI, followerURI, followerInbox string) (bool, error)
	RemoveFollower(ctx context.Context, actorURI, followerURI string) (bool, error)
	AddFollowing(ctx context.Context, actorURI, followeeURI, followeeInbox string) (bool, error)
	RemoveFollowing(ctx context.Context, actorURI, followeeURI string) (bool, error)
	IsFollowing(ctx context.Context, actorURI, followeeURI string) (bool, error)
	ListAllFollowers(ctx context.Context, actorURI string) ([]domain.Follower, error)
	PutActivity(ctx context.Context, activity *domain.Activity) error
	ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	ReadFollowByActors(ctx context.Context, actorURI, objectURI string) (*domain.Activity, error)
	ReadActivityByKindActors(ctx context.Context, kind domain.ActivityKind, actorURI, objectURI string) (*domain.Activity, error)
	CreatePost(ctx context.Context, post *domain.Post) error
	ReadPostByURI(ctx context.Context, uri string) (*domain.Post, error)
	ToggleLike(ctx context.Context, postURI, actorURI string) (bool, int, error)
	AddLike(ctx context.Context, postURI, actorURI string) error
}

// Sender dispatches a signed activity to a remote inbox, fire-and-forget.
type Sender interface {
	Deliver(activity interface{}, inboxURI string, acc *domain.Account)
}

// Invalidator is the cache surface the service touches after mutations.
type Invalidator interface {
	InvalidateFollowChange(ctx context.Context, actorHandle, counterpartHandle string)
	InvalidatePostChange(ctx context.Context, authorHandle string)
	InvalidateFeed(ctx context.Context, handle string)
}

// Service drives the follow-graph state machine and post publication, on
// both the REST and the federation side.
type Service struct {
	store    Store
	resolver *Resolver
	sender   Sender
	cache    Invalidator
	conf     *util.AppConfig
}

func NewService(store Store, resolver *Resolver, sender Sender, cache Invalidator, conf *util.AppConfig) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		sender:   sender,
		cache:    cache,
		conf:     conf,
	}
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Follow establishes acc -> targetHandle. Writes the Following edge, the
// mirrored Follower edge, and for a remote target records and dispatches a
// Follow activity. The steps are sequential with per-document atomicity
// only and no compensating rollback; a crash mid-way leaves a partial edge
// (accepted at-least-once semantics).
func (s *Service) Follow(ctx context.Context, acc *domain.Account, targetHandle string) (*domain.Actor, error) {
	target, err := s.resolver.Resolve(ctx, targetHandle)
	if err != nil {
		return nil, err
	}

	localActor := s.resolver.LocalActor(acc)
	if target.ActorURI == localActor.ActorURI {
		return nil, &domain.ValidationError{Reason: "cannot follow yourself"}
	}

	inserted, err := s.store.AddFollowing(ctx, localActor.ActorURI, target.ActorURI, target.InboxURI)
	if err != nil {
		return nil, fmt.Errorf("failed to store following edge: %w", err)
	}
	if !inserted {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("already following %s", target.FullHandle)}
	}

	// The two edge writes are not transactional; a crash in between
	// leaves a one-sided edge.
	if _, err := s.store.AddFollower(ctx, target.ActorURI, localActor.ActorURI, localActor.InboxURI); err != nil {
		return nil, fmt.Errorf("failed to store follower edge: %w", err)
	}

	if !target.IsLocal {
		followURI := s.mintURI(acc.Username, domain.KindFollow)
		follow := map[string]interface{}{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       followURI,
			"type":     "Follow",
			"actor":    localActor.ActorURI,
			"object":   target.ActorURI,
		}

		if err := s.putRecord(ctx, followURI, domain.KindFollow, localActor.ActorURI, target.ActorURI, follow, true); err != nil {
			return nil, err
		}

		// Initiator side stays PENDING until the remote Accept arrives;
		// no response is terminal-by-timeout, no retry.
		s.sender.Deliver(follow, target.InboxURI, acc)
	}

	s.cache.InvalidateFollowChange(ctx, localActor.FullHandle, target.FullHandle)
	log.Printf("Follow: %s -> %s", localActor.FullHandle, target.FullHandle)
	return target, nil
}

// Unfollow removes acc -> targetHandle, mirroring Follow. For a remote
// target the original Follow record is located by its (actor, object) pair
// and wrapped in an Undo.
func (s *Service) Unfollow(ctx context.Context, acc *domain.Account, targetHandle string) error {
	target, err := s.resolver.Resolve(ctx, targetHandle)
	if err != nil {
		return err
	}

	localActor := s.resolver.LocalActor(acc)

	removed, err := s.store.RemoveFollowing(ctx, localActor.ActorURI, target.ActorURI)
	if err != nil {
		return fmt.Errorf("failed to remove following edge: %w", err)
	}
	if !removed {
		return &domain.NotFoundError{Resource: "follow relationship"}
	}

	if _, err := s.store.RemoveFollower(ctx, target.ActorURI, localActor.ActorURI); err != nil {
		return fmt.Errorf("failed to remove follower edge: %w", err)
	}

	if !target.IsLocal {
		followRec, err := s.store.ReadFollowByActors(ctx, localActor.ActorURI, target.ActorURI)
		if err != nil {
			// The edge is gone locally either way, the remote side will
			// keep a dangling follower until it sees an Undo.
			log.Printf("Unfollow: No follow record for %s -> %s: %v", localActor.FullHandle, target.FullHandle, err)
		} else {
			undoURI := s.mintURI(acc.Username, domain.KindUndo)
			undo := map[string]interface{}{
				"@context": "https://www.w3.org/ns/activitystreams",
				"id":       undoURI,
				"type":     "Undo",
				"actor":    localActor.ActorURI,
				"object": map[string]interface{}{
					"id":     followRec.URI,
					"type":   "Follow",
					"actor":  localActor.ActorURI,
					"object": target.ActorURI,
				},
			}

			if err := s.putRecord(ctx, undoURI, domain.KindUndo, localActor.ActorURI, followRec.URI, undo, true); err != nil {
				return err
			}
			s.sender.Deliver(undo, target.InboxURI, acc)
		}
	}

	s.cache.InvalidateFollowChange(ctx, localActor.FullHandle, target.FullHandle)
	log.Printf("Unfollow: %s -/-> %s", localActor.FullHandle, target.FullHandle)
	return nil
}

// CreatePost stores a new local post and fans a Create(Note) activity out
// to every remote follower's inbox.
func (s *Service) CreatePost(ctx context.Context, acc *domain.Account, mediaURL, mediaType, caption string) (*domain.Post, error) {
	if mediaURL == "" {
		return nil, &domain.ValidationError{Reason: "missing media reference"}
	}
	if _, ok := attachmentKindOf(mediaType); !ok {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported media type: %q", mediaType)}
	}

	localActor := s.resolver.LocalActor(acc)
	now := time.Now()

	noteURI := s.mintURI(acc.Username, domain.KindNote)
	createURI := s.mintURI(acc.Username, domain.KindCreate)

	post := &domain.Post{
		URI:        noteURI,
		UserHandle: localActor.FullHandle,
		MediaURL:   mediaURL,
		MediaType:  mediaType,
		Caption:    util.NormalizeInput(caption),
		LikedBy:    []string{},
		Timestamp:  now.UnixMilli(),
	}

	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to store post: %w", err)
	}

	note := map[string]interface{}{
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": localActor.ActorURI,
		"content":      post.Caption,
		"published":    now.Format(time.RFC3339),
		"attachment": []map[string]interface{}{
			{
				"type":      string(mustAttachmentKind(mediaType)),
				"mediaType": mediaType,
				"url":       mediaURL,
			},
		},
		"to": []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc": []string{localActor.FollowersURI},
	}
	create := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        createURI,
		"type":      "Create",
		"actor":     localActor.ActorURI,
		"published": now.Format(time.RFC3339),
		"to":        []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":        []string{localActor.FollowersURI},
		"object":    note,
	}

	if err := s.putRecord(ctx, noteURI, domain.KindNote, localActor.ActorURI, "", note, true); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, createURI, domain.KindCreate, localActor.ActorURI, noteURI, create, true); err != nil {
		return nil, err
	}

	// Fan the Create out to remote followers only; local followers read
	// the post straight from the store.
	followers, err := s.store.ListAllFollowers(ctx, localActor.ActorURI)
	if err != nil {
		log.Printf("CreatePost: Failed to list followers of %s: %v", localActor.FullHandle, err)
	} else {
		delivered := 0
		for _, f := range followers {
			if s.isLocalURI(f.FollowerURI) || f.InboxURI == "" {
				continue
			}
			s.sender.Deliver(create, f.InboxURI, acc)
			delivered++
		}
		log.Printf("CreatePost: Queued Create for %s to %d remote followers", localActor.FullHandle, delivered)
	}

	s.cache.InvalidatePostChange(ctx, localActor.FullHandle)
	return post, nil
}

// ToggleLike flips acc's like on a post. For posts authored remotely, a
// Like (or an Undo of the earlier Like) is additionally recorded and
// dispatched to the author's inbox.
func (s *Service) ToggleLike(ctx context.Context, acc *domain.Account, postURI string) (bool, int, error) {
	localActor := s.resolver.LocalActor(acc)

	post, err := s.store.ReadPostByURI(ctx, postURI)
	if err != nil {
		return false, 0, err
	}

	liked, count, err := s.store.ToggleLike(ctx, postURI, localActor.ActorURI)
	if err != nil {
		return false, 0, err
	}

	if !s.isLocalURI(postURI) {
		if err := s.federateLike(ctx, acc, localActor, post, liked); err != nil {
			// The local toggle already committed; delivery is best-effort
			log.Printf("ToggleLike: Failed to federate like on %s: %v", postURI, err)
		}
	}

	s.cache.InvalidateFeed(ctx, localActor.FullHandle)
	return liked, count, nil
}

func (s *Service) federateLike(ctx context.Context, acc *domain.Account, localActor *domain.Actor, post *domain.Post, liked bool) error {
	author, err := s.resolver.Resolve(ctx, post.UserHandle)
	if err != nil {
		return err
	}

	if liked {
		likeURI := s.mintURI(acc.Username, domain.KindLike)
		like := map[string]interface{}{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       likeURI,
			"type":     "Like",
			"actor":    localActor.ActorURI,
			"object":   post.URI,
		}
		if err := s.putRecord(ctx, likeURI, domain.KindLike, localActor.ActorURI, post.URI, like, true); err != nil {
			return err
		}
		s.sender.Deliver(like, author.InboxURI, acc)
		return nil
	}

	original, err := s.store.ReadActivityByKindActors(ctx, domain.KindLike, localActor.ActorURI, post.URI)
	if err != nil {
		return err
	}
	undoURI := s.mintURI(acc.Username, domain.KindUndo)
	undo := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       undoURI,
		"type":     "Undo",
		"actor":    localActor.ActorURI,
		"object": map[string]interface{}{
			"id":     original.URI,
			"type":   "Like",
			"actor":  localActor.ActorURI,
			"object": post.URI,
		},
	}
	if err := s.putRecord(ctx, undoURI, domain.KindUndo, localActor.ActorURI, original.URI, undo, true); err != nil {
		return err
	}
	s.sender.Deliver(undo, author.InboxURI, acc)
	return nil
}

// putRecord persists an immutable activity record with its raw JSON.
func (s *Service) putRecord(ctx context.Context, uri string, kind domain.ActivityKind, actorURI, objectURI string, payload interface{}, local bool) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}
	return s.store.PutActivity(ctx, &domain.Activity{
		URI:       uri,
		Kind:      kind,
		ActorURI:  actorURI,
		ObjectURI: objectURI,
		RawJSON:   string(raw),
		Local:     local,
		CreatedAt: time.Now(),
	})
}

// mintURI builds a server-assigned record URI: {origin}/users/{id}/{kind}/{guid}
func (s *Service) mintURI(username string, kind domain.ActivityKind) string {
	return fmt.Sprintf("%s/users/%s/%s/%s", s.resolver.Origin(), username, strings.ToLower(string(kind)), uuid.New().String())
}

func (s *Service) isLocalURI(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), hostnameOf(s.conf.Conf.SslDomain))
}

// attachmentKindOf narrows a MIME type onto the closed attachment variant
// set: images and videos map directly, everything else well-formed is a
// Document.
func attachmentKindOf(mediaType string) (domain.AttachmentKind, bool) {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return domain.AttachmentImage, true
	case strings.HasPrefix(mediaType, "video/"):
		return domain.AttachmentVideo, true
	case strings.Contains(mediaType, "/"):
		return domain.AttachmentDocument, true
	}
	return "", false
}

func mustAttachmentKind(mediaType string) domain.AttachmentKind {
	kind, _ := attachmentKindOf(mediaType)
	return kind
}
