package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
)

type fakeStore struct {
	following map[string][]domain.Following
	posts     map[string][]int64 // handle -> timestamps, descending
	accounts  map[string]*domain.Account
	failFor   map[string]bool
}

func (f *fakeStore) ListAllFollowing(ctx context.Context, actorURI string) ([]domain.Following, error) {
	return f.following[actorURI], nil
}

func (f *fakeStore) ReadPostsByAuthorBefore(ctx context.Context, userHandle string, before int64, limit int) ([]domain.Post, error) {
	if f.failFor[userHandle] {
		return nil, errors.New("source unavailable")
	}
	var out []domain.Post
	for _, ts := range f.posts[userHandle] {
		if ts < before {
			out = append(out, domain.Post{
				URI:        userHandle + "/post",
				UserHandle: userHandle,
				Timestamp:  ts,
			})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error) {
	acc, ok := f.accounts[actorURI]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "account"}
	}
	return acc, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, handleOrURI string) (*domain.Actor, error) {
	return nil, &domain.NotFoundError{Resource: "actor"}
}

func (fakeResolver) LocalActor(acc *domain.Account) *domain.Actor {
	return &domain.Actor{
		ActorURI:   acc.ActorURI,
		Username:   acc.Username,
		FullHandle: domain.FullHandle(acc.Username, "example.com"),
		AvatarURL:  acc.AvatarURL,
		IsLocal:    true,
	}
}

type fakeCache struct{}

func (fakeCache) GetJSON(ctx context.Context, key string, dest interface{}) bool { return false }

func (fakeCache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {}

func testConf(fanout int) *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "example.com"
	conf.Conf.FeedFanout = fanout
	return conf
}

func account(name string) *domain.Account {
	return &domain.Account{
		Username: name,
		ActorURI: "https://example.com/users/" + name,
	}
}

func newTestAggregator(store *fakeStore, fanout int) *Aggregator {
	return NewAggregator(store, fakeResolver{}, fakeCache{}, testConf(fanout))
}

// A tall source must not hide the short source's older posts: with one post
// fetched per source and per round, every post of both authors has to come
// out exactly once, newest first, across successive cursor rounds.
func TestAssembleWatermarkLosesNothing(t *testing.T) {
	reader := account("reader")
	alice := account("alice")
	bob := account("bob")

	store := &fakeStore{
		following: map[string][]domain.Following{
			reader.ActorURI: {
				{ActorURI: reader.ActorURI, FolloweeURI: alice.ActorURI},
				{ActorURI: reader.ActorURI, FolloweeURI: bob.ActorURI},
			},
		},
		posts: map[string][]int64{
			"@alice@example.com": {100, 90, 80},
			"@bob@example.com":   {95, 50},
		},
		accounts: map[string]*domain.Account{
			reader.ActorURI: reader,
			alice.ActorURI:  alice,
			bob.ActorURI:    bob,
		},
	}

	agg := newTestAggregator(store, 1)

	var collected []int64
	cursor := domain.FeedStart
	for rounds := 0; ; rounds++ {
		if rounds > 10 {
			t.Fatal("Feed did not terminate within 10 rounds")
		}

		page, err := agg.Assemble(context.Background(), reader, cursor)
		if err != nil {
			t.Fatalf("Assemble failed at cursor %d: %v", cursor, err)
		}

		for i, p := range page.Posts {
			if i > 0 && page.Posts[i-1].Timestamp < p.Timestamp {
				t.Errorf("Page at cursor %d not sorted descending: %d before %d", cursor, page.Posts[i-1].Timestamp, p.Timestamp)
			}
			collected = append(collected, p.Timestamp)
		}

		if page.NextCursor == domain.FeedEnd {
			break
		}
		if page.NextCursor >= cursor {
			t.Fatalf("Cursor did not advance: %d -> %d", cursor, page.NextCursor)
		}
		cursor = page.NextCursor
	}

	want := []int64{100, 95, 90, 80, 50}
	if len(collected) != len(want) {
		t.Fatalf("Expected %d posts total, got %d: %v", len(want), len(collected), collected)
	}
	for i, ts := range want {
		if collected[i] != ts {
			t.Errorf("Position %d: expected timestamp %d, got %d (all: %v)", i, ts, collected[i], collected)
		}
	}
}

func TestAssembleFirstPageHoldsBackBelowWatermark(t *testing.T) {
	reader := account("reader")
	alice := account("alice")
	bob := account("bob")

	store := &fakeStore{
		following: map[string][]domain.Following{
			reader.ActorURI: {
				{ActorURI: reader.ActorURI, FolloweeURI: alice.ActorURI},
				{ActorURI: reader.ActorURI, FolloweeURI: bob.ActorURI},
			},
		},
		posts: map[string][]int64{
			"@alice@example.com": {100, 90, 80},
			"@bob@example.com":   {95, 50},
		},
		accounts: map[string]*domain.Account{
			reader.ActorURI: reader,
			alice.ActorURI:  alice,
			bob.ActorURI:    bob,
		},
	}

	agg := newTestAggregator(store, 1)

	page, err := agg.Assemble(context.Background(), reader, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	// Alice's floor is 100, so Bob's 95 must wait for the next round
	if len(page.Posts) != 1 || page.Posts[0].Timestamp != 100 {
		t.Errorf("Expected exactly [100] on the first page, got %+v", page.Posts)
	}
	if page.NextCursor != 100 {
		t.Errorf("Expected watermark 100, got %d", page.NextCursor)
	}
}

func TestAssembleEmptyFollowing(t *testing.T) {
	reader := account("reader")
	store := &fakeStore{
		following: map[string][]domain.Following{},
		accounts:  map[string]*domain.Account{reader.ActorURI: reader},
	}

	agg := newTestAggregator(store, 5)
	page, err := agg.Assemble(context.Background(), reader, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(page.Posts) != 0 {
		t.Errorf("Expected empty page, got %d posts", len(page.Posts))
	}
	if page.NextCursor != domain.FeedEnd {
		t.Errorf("Expected end sentinel %d, got %d", domain.FeedEnd, page.NextCursor)
	}
}

// A failing source degrades to an empty contribution instead of erroring
// the whole feed or pinning the watermark.
func TestAssembleSurvivesFailingSource(t *testing.T) {
	reader := account("reader")
	alice := account("alice")
	bob := account("bob")

	store := &fakeStore{
		following: map[string][]domain.Following{
			reader.ActorURI: {
				{ActorURI: reader.ActorURI, FolloweeURI: alice.ActorURI},
				{ActorURI: reader.ActorURI, FolloweeURI: bob.ActorURI},
			},
		},
		posts: map[string][]int64{
			"@alice@example.com": {100, 90},
		},
		accounts: map[string]*domain.Account{
			reader.ActorURI: reader,
			alice.ActorURI:  alice,
			bob.ActorURI:    bob,
		},
		failFor: map[string]bool{"@bob@example.com": true},
	}

	agg := newTestAggregator(store, 5)
	page, err := agg.Assemble(context.Background(), reader, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(page.Posts) != 2 {
		t.Fatalf("Expected 2 posts from the healthy source, got %d", len(page.Posts))
	}
	if page.NextCursor != domain.FeedEnd {
		t.Errorf("Expected end sentinel after exhausting the healthy source, got %d", page.NextCursor)
	}
}

func TestAssembleAnnotatesLocalAuthors(t *testing.T) {
	reader := account("reader")
	alice := account("alice")
	alice.AvatarURL = "https://example.com/media/alice.png"

	store := &fakeStore{
		following: map[string][]domain.Following{
			reader.ActorURI: {
				{ActorURI: reader.ActorURI, FolloweeURI: alice.ActorURI},
			},
		},
		posts: map[string][]int64{
			"@alice@example.com": {100},
		},
		accounts: map[string]*domain.Account{
			reader.ActorURI: reader,
			alice.ActorURI:  alice,
		},
	}

	agg := newTestAggregator(store, 5)
	page, err := agg.Assemble(context.Background(), reader, domain.FeedStart)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Fatalf("Expected 1 post, got %d", len(page.Posts))
	}
	if !page.Posts[0].IsInternalUser {
		t.Error("Expected IsInternalUser for a locally resolved author")
	}
	if page.Posts[0].AuthorAvatar != alice.AvatarURL {
		t.Errorf("Expected avatar %q, got %q", alice.AvatarURL, page.Posts[0].AuthorAvatar)
	}
}
