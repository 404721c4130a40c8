package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pachygram/domain"
)

// inboxActivity is the envelope every inbound activity shares. Object is
// kept raw: depending on the variant it is a bare URI string or an
// embedded object.
type inboxActivity struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

type embeddedObject struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Object string `json:"object"`
}

type noteObject struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Content      string `json:"content"`
	Published    string `json:"published"`
	AttributedTo string `json:"attributedTo"`
	Attachment   []struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"attachment"`
}

// HandleInbox processes one verified inbound activity addressed to the
// local user. The activity type is matched exhaustively against the closed
// variant set; unrecognized variants are rejected, not string-sniffed.
func (s *Service) HandleInbox(ctx context.Context, username string, body []byte, remoteActor *domain.Actor) error {
	acc, err := s.store.ReadAccountByUsername(ctx, username)
	if err != nil {
		return err
	}

	var activity inboxActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("malformed activity: %v", err)}
	}

	kind, ok := domain.ParseActivityKind(activity.Type)
	if !ok {
		log.Printf("Inbox: Rejecting unrecognized activity type %q from %s", activity.Type, activity.Actor)
		return &domain.ValidationError{Reason: fmt.Sprintf("unsupported activity type: %s", activity.Type)}
	}

	log.Printf("Inbox: Received %s from %s for %s", kind, remoteActor.FullHandle, username)

	// Record first: the peer may dereference the activity URI later and
	// must get a stable answer. Re-delivery of a known URI is a no-op.
	if activity.ID != "" {
		record := &domain.Activity{
			URI:       activity.ID,
			Kind:      kind,
			ActorURI:  activity.Actor,
			ObjectURI: objectURIOf(activity.Object),
			RawJSON:   string(body),
			Local:     false,
			CreatedAt: time.Now(),
		}
		if err := s.store.PutActivity(ctx, record); err != nil {
			log.Printf("Inbox: Failed to store %s record: %v", kind, err)
			// Processing continues, the record is for dereferencing only
		}
	}

	switch kind {
	case domain.KindFollow:
		return s.handleFollow(ctx, acc, remoteActor, &activity)
	case domain.KindUndo:
		return s.handleUndo(ctx, acc, remoteActor, &activity)
	case domain.KindCreate:
		return s.handleCreate(ctx, acc, remoteActor, &activity)
	case domain.KindLike:
		return s.handleLike(ctx, remoteActor, &activity)
	case domain.KindAccept:
		// The remote side confirmed our Follow; both edges were already
		// written when the Follow was initiated, so the stored Accept
		// record is all that remains to do.
		log.Printf("Inbox: Follow of %s confirmed by Accept", remoteActor.FullHandle)
		return nil
	}
	return nil
}

// handleFollow is the recipient side of the handshake: record the edge and
// synchronously emit Accept. There is no pending state and no manual
// approval step, every well-formed Follow is accepted.
func (s *Service) handleFollow(ctx context.Context, acc *domain.Account, remoteActor *domain.Actor, activity *inboxActivity) error {
	localActor := s.resolver.LocalActor(acc)

	inserted, err := s.store.AddFollower(ctx, localActor.ActorURI, remoteActor.ActorURI, remoteActor.InboxURI)
	if err != nil {
		return fmt.Errorf("failed to store follower edge: %w", err)
	}
	if !inserted {
		// Duplicate Follow, likely a redelivery; re-accept anyway
		log.Printf("Inbox: %s already follows %s", remoteActor.FullHandle, localActor.FullHandle)
	}

	acceptURI := s.mintURI(acc.Username, domain.KindAccept)
	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptURI,
		"type":     "Accept",
		"actor":    localActor.ActorURI,
		"object": map[string]interface{}{
			"id":     activity.ID,
			"type":   "Follow",
			"actor":  remoteActor.ActorURI,
			"object": localActor.ActorURI,
		},
	}

	if err := s.putRecord(ctx, acceptURI, domain.KindAccept, localActor.ActorURI, activity.ID, accept, true); err != nil {
		return err
	}
	s.sender.Deliver(accept, remoteActor.InboxURI, acc)

	s.cache.InvalidateFollowChange(ctx, remoteActor.FullHandle, localActor.FullHandle)
	log.Printf("Inbox: Accepted follow from %s", remoteActor.FullHandle)
	return nil
}

// handleUndo removes the follower edge referenced by an Undo(Follow).
func (s *Service) handleUndo(ctx context.Context, acc *domain.Account, remoteActor *domain.Actor, activity *inboxActivity) error {
	var obj embeddedObject
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("malformed Undo object: %v", err)}
	}

	if obj.Type != "Follow" {
		log.Printf("Inbox: Ignoring Undo of %q from %s", obj.Type, remoteActor.FullHandle)
		return nil
	}

	// Sanity-check against the stored Follow record; an Undo that arrives
	// with only an id still resolves through the (actor, object) lookup.
	if obj.ID != "" {
		if _, err := s.store.ReadActivityByURI(ctx, obj.ID); err != nil {
			log.Printf("Inbox: Undo references unknown follow %s", obj.ID)
		}
	} else {
		localActor := s.resolver.LocalActor(acc)
		if _, err := s.store.ReadFollowByActors(ctx, remoteActor.ActorURI, localActor.ActorURI); err != nil {
			return &domain.NotFoundError{Resource: "follow activity"}
		}
	}

	localActor := s.resolver.LocalActor(acc)
	removed, err := s.store.RemoveFollower(ctx, localActor.ActorURI, remoteActor.ActorURI)
	if err != nil {
		return fmt.Errorf("failed to remove follower edge: %w", err)
	}
	if !removed {
		log.Printf("Inbox: Undo for non-existent follower %s of %s", remoteActor.FullHandle, localActor.FullHandle)
		return nil
	}

	s.cache.InvalidateFollowChange(ctx, remoteActor.FullHandle, localActor.FullHandle)
	log.Printf("Inbox: Removed follow from %s", remoteActor.FullHandle)
	return nil
}

// handleCreate ingests a post from a followed remote actor. Creates from
// actors the local user does not follow are rejected.
func (s *Service) handleCreate(ctx context.Context, acc *domain.Account, remoteActor *domain.Actor, activity *inboxActivity) error {
	localActor := s.resolver.LocalActor(acc)

	following, err := s.store.IsFollowing(ctx, localActor.ActorURI, remoteActor.ActorURI)
	if err != nil {
		return fmt.Errorf("failed to check follow state: %w", err)
	}
	if !following {
		return &domain.ValidationError{Reason: fmt.Sprintf("not following %s", remoteActor.FullHandle)}
	}

	var note noteObject
	if err := json.Unmarshal(activity.Object, &note); err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("malformed Create object: %v", err)}
	}
	if note.Type != "Note" || note.ID == "" {
		return &domain.ValidationError{Reason: fmt.Sprintf("unsupported Create payload: %q", note.Type)}
	}

	var mediaURL, mediaType string
	for _, att := range note.Attachment {
		if _, ok := domain.ParseAttachmentKind(att.Type); !ok {
			log.Printf("Inbox: Skipping unrecognized attachment kind %q on %s", att.Type, note.ID)
			continue
		}
		mediaURL = att.URL
		mediaType = att.MediaType
		break
	}

	timestamp := time.Now().UnixMilli()
	if note.Published != "" {
		if published, err := time.Parse(time.RFC3339, note.Published); err == nil {
			timestamp = published.UnixMilli()
		}
	}

	post := &domain.Post{
		URI:        note.ID,
		UserHandle: remoteActor.FullHandle,
		MediaURL:   mediaURL,
		MediaType:  mediaType,
		Caption:    note.Content,
		LikedBy:    []string{},
		Timestamp:  timestamp,
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to store ingested post: %w", err)
	}

	s.cache.InvalidateFeed(ctx, localActor.FullHandle)
	log.Printf("Inbox: Ingested post %s from %s", note.ID, remoteActor.FullHandle)
	return nil
}

// handleLike records a remote actor's like on a local post.
func (s *Service) handleLike(ctx context.Context, remoteActor *domain.Actor, activity *inboxActivity) error {
	postURI := objectURIOf(activity.Object)
	if postURI == "" {
		return &domain.ValidationError{Reason: "Like without object"}
	}

	if err := s.store.AddLike(ctx, postURI, remoteActor.ActorURI); err != nil {
		// A like for a post we never ingested is harmless
		log.Printf("Inbox: Like for unknown post %s from %s: %v", postURI, remoteActor.FullHandle, err)
		return nil
	}

	log.Printf("Inbox: %s liked %s", remoteActor.FullHandle, postURI)
	return nil
}

// objectURIOf handles the two wire shapes of the object field: a bare URI
// string (Follow, Like) or an embedded object with an id (Create, Undo).
func objectURIOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return uri
	}

	var obj embeddedObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
