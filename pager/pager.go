// Package pager serves paginated follower and following collections behind
// a single opaque cursor, regardless of whether the subject actor lives on
// this server or a remote one.
package pager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/pachygram/cache"
	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
)

// Relation selects which side of the follow graph a page is drawn from.
type Relation string

const (
	RelationFollowers Relation = "followers"
	RelationFollowing Relation = "following"
)

// Store is the subset of persistence the pager reads for local actors.
type Store interface {
	ListFollowers(ctx context.Context, actorURI, cursorKey string, limit int) ([]domain.Follower, string, bool, error)
	ListFollowing(ctx context.Context, actorURI, cursorKey string, limit int) ([]domain.Following, string, bool, error)
	CountFollowers(ctx context.Context, actorURI string) (int64, error)
	CountFollowing(ctx context.Context, actorURI string) (int64, error)
	ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error)
}

// Resolver turns actor URIs from either side of the graph into profiles.
type Resolver interface {
	Resolve(ctx context.Context, handleOrURI string) (*domain.Actor, error)
	LocalActor(acc *domain.Account) *domain.Actor
}

// PageCache is the read-through cache for assembled collection pages.
type PageCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration)
}

// Page is one slice of a follower or following collection. NextCursor is
// the opaque token for the next slice, empty when this is the last one.
type Page struct {
	Items      []domain.Actor `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
	TotalItems int64          `json:"totalItems"`
}

type Pager struct {
	store    Store
	resolver Resolver
	cache    PageCache
	conf     *util.AppConfig
	client   *http.Client
}

func NewPager(store Store, resolver Resolver, pageCache PageCache, conf *util.AppConfig) *Pager {
	return &Pager{
		store:    store,
		resolver: resolver,
		cache:    pageCache,
		conf:     conf,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Collection returns one page of the given relation for the actor. The
// cursor must be empty (first page) or a value previously returned in
// NextCursor; a cursor of the wrong variant for the actor's locality is
// rejected.
func (p *Pager) Collection(ctx context.Context, actor *domain.Actor, relation Relation, rawCursor string) (*Page, error) {
	cursor, err := domain.DecodeCursor(rawCursor)
	if err != nil {
		return nil, err
	}

	cacheKey := p.collectionKey(actor.FullHandle, relation, rawCursor)
	var cached Page
	if p.cache.GetJSON(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var page *Page
	if actor.IsLocal {
		page, err = p.localPage(ctx, actor, relation, cursor)
	} else {
		page, err = p.remotePage(ctx, actor, relation, cursor)
	}
	if err != nil {
		return nil, err
	}

	p.cache.SetJSON(ctx, cacheKey, page, cache.CollectionTTL)
	return page, nil
}

func (p *Pager) localPage(ctx context.Context, actor *domain.Actor, relation Relation, cursor domain.Cursor) (*Page, error) {
	if !cursor.Start() && cursor.Kind == domain.CursorRemote {
		return nil, &domain.ValidationError{Reason: "remote cursor for local collection"}
	}

	limit := p.conf.Conf.PageSize
	var counterparts []string
	var nextKey string
	var isLast bool
	var total int64
	var err error

	switch relation {
	case RelationFollowers:
		var rows []domain.Follower
		rows, nextKey, isLast, err = p.store.ListFollowers(ctx, actor.ActorURI, cursor.Key, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			counterparts = append(counterparts, r.FollowerURI)
		}
		total, err = p.store.CountFollowers(ctx, actor.ActorURI)
	case RelationFollowing:
		var rows []domain.Following
		rows, nextKey, isLast, err = p.store.ListFollowing(ctx, actor.ActorURI, cursor.Key, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			counterparts = append(counterparts, r.FolloweeURI)
		}
		total, err = p.store.CountFollowing(ctx, actor.ActorURI)
	default:
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("unknown relation: %s", relation)}
	}
	if err != nil {
		return nil, err
	}

	page := &Page{Items: []domain.Actor{}, TotalItems: total}
	for _, uri := range counterparts {
		resolved, err := p.resolveCounterpart(ctx, uri)
		if err != nil {
			log.Printf("Pager: Skipping unresolvable actor %s: %v", uri, err)
			continue
		}
		page.Items = append(page.Items, *resolved)
	}

	if !isLast {
		page.NextCursor = domain.LocalCursor(nextKey).Encode()
	}
	return page, nil
}

// remotePage walks the actor's published collection. The first request
// dereferences the collection root to find its first page; subsequent
// requests carry the remote page URL inside the cursor token.
func (p *Pager) remotePage(ctx context.Context, actor *domain.Actor, relation Relation, cursor domain.Cursor) (*Page, error) {
	if !cursor.Start() && cursor.Kind == domain.CursorLocal {
		return nil, &domain.ValidationError{Reason: "local cursor for remote collection"}
	}

	collectionURI := actor.FollowersURI
	if relation == RelationFollowing {
		collectionURI = actor.FollowingURI
	}
	if collectionURI == "" {
		return nil, &domain.NotFoundError{Resource: string(relation) + " collection"}
	}

	var total int64
	pageURI := cursor.Token
	if pageURI == "" {
		root, err := p.fetchCollection(ctx, collectionURI)
		if err != nil {
			return nil, err
		}
		total = root.TotalItems
		pageURI = root.First
		if pageURI == "" {
			// Collection without pages, items inlined at the root
			return p.assembleRemote(ctx, root, total)
		}
	}

	remote, err := p.fetchCollection(ctx, pageURI)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		total = remote.TotalItems
	}
	return p.assembleRemote(ctx, remote, total)
}

// apCollection covers both OrderedCollection roots and their pages; the
// fields not present on a given shape unmarshal to zero values.
type apCollection struct {
	TotalItems   int64             `json:"totalItems"`
	First        string            `json:"first"`
	Next         string            `json:"next"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
	Items        []json.RawMessage `json:"items"`
}

func (p *Pager) assembleRemote(ctx context.Context, coll *apCollection, total int64) (*Page, error) {
	items := coll.OrderedItems
	if len(items) == 0 {
		items = coll.Items
	}

	page := &Page{Items: []domain.Actor{}, TotalItems: total}
	for _, raw := range items {
		uri := itemURI(raw)
		if uri == "" {
			continue
		}
		resolved, err := p.resolver.Resolve(ctx, uri)
		if err != nil {
			log.Printf("Pager: Skipping unresolvable actor %s: %v", uri, err)
			continue
		}
		page.Items = append(page.Items, *resolved)
	}

	if coll.Next != "" {
		page.NextCursor = domain.RemoteCursor(coll.Next).Encode()
	}
	return page, nil
}

func (p *Pager) fetchCollection(ctx context.Context, uri string) (*apCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, &domain.NotFoundError{Resource: "collection " + uri}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collection fetch %s returned status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var coll apCollection
	if err := json.Unmarshal(body, &coll); err != nil {
		return nil, fmt.Errorf("malformed collection %s: %w", uri, err)
	}
	return &coll, nil
}

// resolveCounterpart prefers the local account table before going over the
// network for the edge's other end.
func (p *Pager) resolveCounterpart(ctx context.Context, actorURI string) (*domain.Actor, error) {
	if acc, err := p.store.ReadAccountByActorURI(ctx, actorURI); err == nil {
		return p.resolver.LocalActor(acc), nil
	}
	return p.resolver.Resolve(ctx, actorURI)
}

func (p *Pager) collectionKey(handle string, relation Relation, cursor string) string {
	if relation == RelationFollowing {
		return cache.FollowingKey(handle, cursor)
	}
	return cache.FollowersKey(handle, cursor)
}

// itemURI accepts both bare URI strings and embedded actor objects.
func itemURI(raw json.RawMessage) string {
	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return uri
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
