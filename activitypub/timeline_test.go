package activitypub

import (
	"context"
	"testing"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/feed"
)

// passCache never hits so every Assemble reads the live follow graph.
type passCache struct{}

func (passCache) GetJSON(ctx context.Context, key string, dest interface{}) bool { return false }

func (passCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {}

// Walks the whole pipeline: alice follows bob, bob posts, the post lands in
// alice's feed marked as a local author; after alice unfollows, bob's later
// posts must never surface on freshly assembled pages.
func TestUnfollowStopsFuturePostsInFeed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	alice := addAccount(store, "alice")
	bob := addAccount(store, "bob")

	conf := testConf()
	resolver := NewResolver(store, conf)
	service := NewService(store, resolver, &memSender{}, &memInvalidator{}, conf)
	aggregator := feed.NewAggregator(store, resolver, passCache{}, conf)

	if _, err := service.Follow(ctx, alice, "bob@example.com"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if following, _ := store.IsFollowing(ctx, alice.ActorURI, bob.ActorURI); !following {
		t.Fatal("Follow did not write the following edge")
	}

	first, err := service.CreatePost(ctx, bob, "https://media.example.com/1.jpg", "image/jpeg", "one")
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	page, err := aggregator.Assemble(ctx, alice, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Fatalf("Expected 1 post in the feed, got %d", len(page.Posts))
	}
	if page.Posts[0].URI != first.URI {
		t.Errorf("Feed carries %q, want %q", page.Posts[0].URI, first.URI)
	}
	if !page.Posts[0].IsInternalUser {
		t.Error("A local author's post must be marked IsInternalUser")
	}

	if err := service.Unfollow(ctx, alice, "bob@example.com"); err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}
	if following, _ := store.IsFollowing(ctx, alice.ActorURI, bob.ActorURI); following {
		t.Fatal("Unfollow left the following edge in place")
	}

	if _, err := service.CreatePost(ctx, bob, "https://media.example.com/2.jpg", "image/jpeg", "two"); err != nil {
		t.Fatalf("CreatePost after unfollow failed: %v", err)
	}

	after, err := aggregator.Assemble(ctx, alice, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble after unfollow failed: %v", err)
	}
	if len(after.Posts) != 0 {
		t.Errorf("Feed after unfollow still carries %d posts", len(after.Posts))
	}
	if after.NextCursor != domain.FeedEnd {
		t.Errorf("Empty feed should report the end cursor, got %d", after.NextCursor)
	}
}
