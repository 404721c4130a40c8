// Package feed assembles a user's home timeline by fanning out over the
// accounts they follow and merging the resulting post pages under a
// watermark cursor that never skips a post.
package feed

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deemkeen/pachygram/cache"
	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
)

const maxConcurrentSources = 16

// Store is the subset of persistence the aggregator reads from.
type Store interface {
	ListAllFollowing(ctx context.Context, actorURI string) ([]domain.Following, error)
	ReadPostsByAuthorBefore(ctx context.Context, userHandle string, before int64, limit int) ([]domain.Post, error)
	ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error)
}

// Resolver maps followee actor URIs back to profile data for annotation.
type Resolver interface {
	Resolve(ctx context.Context, handleOrURI string) (*domain.Actor, error)
	LocalActor(acc *domain.Account) *domain.Actor
}

// PageCache is the read-through cache for assembled feed pages.
type PageCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration)
}

// Page is one assembled slice of the home timeline. NextCursor carries the
// watermark for the following request, or FeedEnd when the timeline is
// exhausted.
type Page struct {
	Posts      []domain.FeedPost `json:"posts"`
	NextCursor int64             `json:"nextCursor"`
}

type Aggregator struct {
	store    Store
	resolver Resolver
	cache    PageCache
	conf     *util.AppConfig
}

func NewAggregator(store Store, resolver Resolver, cache PageCache, conf *util.AppConfig) *Aggregator {
	return &Aggregator{store: store, resolver: resolver, cache: cache, conf: conf}
}

// sourcePage is the outcome of fanning out to one followee. A source that
// still has older posts beyond this page reports exhausted=false and its
// oldest fetched timestamp as floor.
type sourcePage struct {
	posts     []domain.FeedPost
	floor     int64
	exhausted bool
}

// Assemble builds the feed page at the given watermark cursor. Pass
// domain.FeedStart for the first page. Each followee contributes at most
// conf.App.FeedFanout posts per round; a followee whose fetch fails
// contributes nothing and cannot hold the watermark back.
func (a *Aggregator) Assemble(ctx context.Context, acc *domain.Account, cursor int64) (*Page, error) {
	localActor := a.resolver.LocalActor(acc)

	cacheKey := cache.FeedKey(localActor.FullHandle, cursor)
	var cached Page
	if a.cache.GetJSON(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	followees, err := a.store.ListAllFollowing(ctx, localActor.ActorURI)
	if err != nil {
		return nil, err
	}

	page := &Page{Posts: []domain.FeedPost{}, NextCursor: domain.FeedEnd}
	if len(followees) == 0 {
		return page, nil
	}

	sources := make([]sourcePage, len(followees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSources)
	for i, f := range followees {
		g.Go(func() error {
			sources[i] = a.fetchSource(gctx, f.FolloweeURI, cursor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The watermark is the highest per-source floor among sources that
	// still have older posts. Everything at or above it is safe to emit:
	// no source can later produce a post newer than its own floor.
	watermark := domain.FeedEnd
	allExhausted := true
	for _, src := range sources {
		if src.exhausted {
			continue
		}
		allExhausted = false
		if src.floor > watermark {
			watermark = src.floor
		}
	}

	var merged []domain.FeedPost
	for _, src := range sources {
		for _, p := range src.posts {
			if allExhausted || p.Timestamp >= watermark {
				merged = append(merged, p)
			}
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})

	page.Posts = merged
	if !allExhausted {
		page.NextCursor = watermark
	}

	a.cache.SetJSON(ctx, cacheKey, page, cache.FeedTTL)
	return page, nil
}

// fetchSource pulls one followee's page below the cursor and annotates the
// posts. Any failure along the way degrades to an empty, exhausted source
// so one dead server cannot take the whole feed down.
func (a *Aggregator) fetchSource(ctx context.Context, followeeURI string, cursor int64) sourcePage {
	limit := a.conf.Conf.FeedFanout

	author, err := a.resolveAuthor(ctx, followeeURI)
	if err != nil {
		log.Printf("Feed: Skipping unresolvable followee %s: %v", followeeURI, err)
		return sourcePage{exhausted: true}
	}

	posts, err := a.store.ReadPostsByAuthorBefore(ctx, author.FullHandle, cursor, limit)
	if err != nil {
		log.Printf("Feed: Failed to read posts of %s: %v", author.FullHandle, err)
		return sourcePage{exhausted: true}
	}
	if len(posts) == 0 {
		return sourcePage{exhausted: true}
	}

	annotated := make([]domain.FeedPost, 0, len(posts))
	for _, p := range posts {
		annotated = append(annotated, domain.FeedPost{
			Post:           p,
			IsInternalUser: author.IsLocal,
			AuthorAvatar:   author.AvatarURL,
		})
	}

	return sourcePage{
		posts:     annotated,
		floor:     posts[len(posts)-1].Timestamp,
		exhausted: len(posts) < limit,
	}
}

// resolveAuthor prefers the local account table and falls back to the
// actor resolver for remote followees.
func (a *Aggregator) resolveAuthor(ctx context.Context, followeeURI string) (*domain.Actor, error) {
	if acc, err := a.store.ReadAccountByActorURI(ctx, followeeURI); err == nil {
		return a.resolver.LocalActor(acc), nil
	}
	return a.resolver.Resolve(ctx, followeeURI)
}
