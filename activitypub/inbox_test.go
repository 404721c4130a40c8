package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/pachygram/domain"
)

func remoteActor(name string) *domain.Actor {
	uri := "https://remote.example/users/" + name
	return &domain.Actor{
		ActorURI:   uri,
		Username:   name,
		FullHandle: domain.FullHandle(name, "remote.example"),
		InboxURI:   uri + "/inbox",
		IsLocal:    false,
	}
}

func TestHandleInboxFollow(t *testing.T) {
	store := newMemStore()
	alice := addAccount(store, "alice")
	service, sender, invalidator := newTestService(store)
	eve := remoteActor("eve")

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/follow/1",
		"type": "Follow",
		"actor": %q,
		"object": %q
	}`, eve.ActorURI, alice.ActorURI))

	if err := service.HandleInbox(context.Background(), "alice", body, eve); err != nil {
		t.Fatalf("HandleInbox failed: %v", err)
	}

	if !store.followers[edgeKey(alice.ActorURI, eve.ActorURI)] {
		t.Error("Follower edge was not written")
	}

	if len(sender.deliveries) != 1 {
		t.Fatalf("Expected an Accept delivery, got %d deliveries", len(sender.deliveries))
	}
	if sender.deliveries[0].inboxURI != eve.InboxURI {
		t.Errorf("Accept delivered to %q, expected %q", sender.deliveries[0].inboxURI, eve.InboxURI)
	}

	raw, err := json.Marshal(sender.deliveries[0].activity)
	if err != nil {
		t.Fatalf("Failed to marshal delivered activity: %v", err)
	}
	var accept struct {
		Type   string `json:"type"`
		Object struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"object"`
	}
	if err := json.Unmarshal(raw, &accept); err != nil {
		t.Fatalf("Failed to parse delivered activity: %v", err)
	}
	if accept.Type != "Accept" || accept.Object.Type != "Follow" {
		t.Errorf("Expected Accept(Follow), got %s(%s)", accept.Type, accept.Object.Type)
	}
	if accept.Object.ID != "https://remote.example/users/eve/follow/1" {
		t.Errorf("Accept references wrong follow id: %q", accept.Object.ID)
	}

	if invalidator.followChanges != 1 {
		t.Errorf("Expected 1 follow invalidation, got %d", invalidator.followChanges)
	}

	// The inbound record is stored for dereferencing
	if _, err := store.ReadActivityByURI(context.Background(), "https://remote.example/users/eve/follow/1"); err != nil {
		t.Errorf("Inbound follow record missing: %v", err)
	}
}

func TestHandleInboxDuplicateFollowReAccepts(t *testing.T) {
	store := newMemStore()
	alice := addAccount(store, "alice")
	service, sender, _ := newTestService(store)
	eve := remoteActor("eve")

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/follow/1",
		"type": "Follow",
		"actor": %q,
		"object": %q
	}`, eve.ActorURI, alice.ActorURI))

	for i := 0; i < 2; i++ {
		if err := service.HandleInbox(context.Background(), "alice", body, eve); err != nil {
			t.Fatalf("HandleInbox round %d failed: %v", i, err)
		}
	}

	if len(sender.deliveries) != 2 {
		t.Errorf("Redelivered follow should be re-accepted, got %d deliveries", len(sender.deliveries))
	}
}

func TestHandleInboxRejectsUnknownType(t *testing.T) {
	store := newMemStore()
	addAccount(store, "alice")
	service, _, _ := newTestService(store)
	eve := remoteActor("eve")

	body := []byte(`{"id": "https://remote.example/x/1", "type": "Announce", "actor": "https://remote.example/users/eve"}`)

	err := service.HandleInbox(context.Background(), "alice", body, eve)
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for unknown activity type, got %v", err)
	}
}

func TestHandleInboxCreateRequiresFollow(t *testing.T) {
	store := newMemStore()
	alice := addAccount(store, "alice")
	service, _, _ := newTestService(store)
	eve := remoteActor("eve")

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/create/1",
		"type": "Create",
		"actor": %q,
		"object": {
			"id": "https://remote.example/users/eve/note/1",
			"type": "Note",
			"content": "hello",
			"published": %q,
			"attachment": [{"type": "Image", "mediaType": "image/jpeg", "url": "https://remote.example/m/1.jpg"}]
		}
	}`, eve.ActorURI, published.Format(time.RFC3339)))

	// Not following yet: the Create is rejected
	err := service.HandleInbox(context.Background(), "alice", body, eve)
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Expected ValidationError for Create from non-followee, got %v", err)
	}
	if len(store.posts) != 0 {
		t.Fatal("Post was ingested despite missing follow")
	}

	store.following[edgeKey(alice.ActorURI, eve.ActorURI)] = true

	if err := service.HandleInbox(context.Background(), "alice", body, eve); err != nil {
		t.Fatalf("HandleInbox failed after follow: %v", err)
	}

	post, ok := store.posts["https://remote.example/users/eve/note/1"]
	if !ok {
		t.Fatal("Ingested post not found under its note id")
	}
	if post.UserHandle != "@eve@remote.example" {
		t.Errorf("Expected author @eve@remote.example, got %q", post.UserHandle)
	}
	if post.Timestamp != published.UnixMilli() {
		t.Errorf("Expected timestamp %d from published date, got %d", published.UnixMilli(), post.Timestamp)
	}
	if post.MediaURL != "https://remote.example/m/1.jpg" {
		t.Errorf("Unexpected media url %q", post.MediaURL)
	}
}

func TestHandleInboxCreateRejectsNonNote(t *testing.T) {
	store := newMemStore()
	alice := addAccount(store, "alice")
	service, _, _ := newTestService(store)
	eve := remoteActor("eve")
	store.following[edgeKey(alice.ActorURI, eve.ActorURI)] = true

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/create/2",
		"type": "Create",
		"actor": %q,
		"object": {"id": "https://remote.example/q/1", "type": "Question"}
	}`, eve.ActorURI))

	err := service.HandleInbox(context.Background(), "alice", body, eve)
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for Create(Question), got %v", err)
	}
}

func TestHandleInboxUndoFollow(t *testing.T) {
	store := newMemStore()
	alice := addAccount(store, "alice")
	service, _, _ := newTestService(store)
	eve := remoteActor("eve")
	store.followers[edgeKey(alice.ActorURI, eve.ActorURI)] = true

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/undo/1",
		"type": "Undo",
		"actor": %q,
		"object": {
			"id": "https://remote.example/users/eve/follow/1",
			"type": "Follow",
			"actor": %q,
			"object": %q
		}
	}`, eve.ActorURI, eve.ActorURI, alice.ActorURI))

	if err := service.HandleInbox(context.Background(), "alice", body, eve); err != nil {
		t.Fatalf("HandleInbox failed: %v", err)
	}

	if store.followers[edgeKey(alice.ActorURI, eve.ActorURI)] {
		t.Error("Follower edge survived the Undo")
	}
}

func TestHandleInboxLike(t *testing.T) {
	store := newMemStore()
	addAccount(store, "alice")
	service, _, _ := newTestService(store)
	eve := remoteActor("eve")

	postURI := "https://example.com/users/alice/note/abc"
	store.posts[postURI] = &domain.Post{URI: postURI, UserHandle: "@alice@example.com"}

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/users/eve/like/1",
		"type": "Like",
		"actor": %q,
		"object": %q
	}`, eve.ActorURI, postURI))

	if err := service.HandleInbox(context.Background(), "alice", body, eve); err != nil {
		t.Fatalf("HandleInbox failed: %v", err)
	}

	if !store.likes[postURI][eve.ActorURI] {
		t.Error("Like was not recorded")
	}
}
