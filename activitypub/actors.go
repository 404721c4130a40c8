package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/util"
)

// AccountReader is the slice of the store the resolver needs for local
// actors.
type AccountReader interface {
	ReadAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	ReadAccountByActorURI(ctx context.Context, actorURI string) (*domain.Account, error)
}

// Resolver classifies a handle or actor URI as local or remote and
// normalizes both into one actor representation. Local actors are served
// from the store with their protocol view synthesized deterministically;
// remote actors go through WebFinger plus an actor-document fetch.
type Resolver struct {
	store  AccountReader
	conf   *util.AppConfig
	client *http.Client
}

func NewResolver(store AccountReader, conf *util.AppConfig) *Resolver {
	return &Resolver{
		store:  store,
		conf:   conf,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// actorResponse represents the JSON structure of an ActivityPub actor
type actorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Following         string      `json:"following"`
	Icon              struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

type webfingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// IsLocal reports whether a handle belongs to this server. Pure string
// comparison, no network.
func (r *Resolver) IsLocal(handle string) bool {
	return domain.IsLocalHandle(handle, r.conf.Conf.SslDomain)
}

// Origin is the scheme+host prefix of every URI this server mints.
func (r *Resolver) Origin() string {
	return fmt.Sprintf("https://%s", r.conf.Conf.SslDomain)
}

// Resolve turns a "@name@host" handle or a bare actor URI into an Actor,
// or a NotFoundError if neither side knows it.
func (r *Resolver) Resolve(ctx context.Context, handleOrURI string) (*domain.Actor, error) {
	if strings.HasPrefix(handleOrURI, "http://") || strings.HasPrefix(handleOrURI, "https://") {
		return r.resolveURI(ctx, handleOrURI)
	}

	name, host, err := domain.ParseHandle(handleOrURI)
	if err != nil {
		return nil, err
	}

	if r.IsLocal(handleOrURI) {
		acc, err := r.store.ReadAccountByUsername(ctx, name)
		if err != nil {
			return nil, err
		}
		return r.LocalActor(acc), nil
	}

	actorURI, err := r.webfinger(ctx, name, host)
	if err != nil {
		return nil, err
	}
	return r.FetchActor(ctx, actorURI)
}

func (r *Resolver) resolveURI(ctx context.Context, actorURI string) (*domain.Actor, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("invalid actor URI: %v", err)}
	}
	if strings.EqualFold(parsed.Hostname(), hostnameOf(r.conf.Conf.SslDomain)) {
		acc, err := r.store.ReadAccountByActorURI(ctx, actorURI)
		if err != nil {
			return nil, err
		}
		return r.LocalActor(acc), nil
	}
	return r.FetchActor(ctx, actorURI)
}

// LocalActor synthesizes the protocol-shaped view of a local account. The
// inbox and collection URIs derive from the actor id, no lookup needed.
func (r *Resolver) LocalActor(acc *domain.Account) *domain.Actor {
	actorURI := acc.ActorURI
	if actorURI == "" {
		actorURI = fmt.Sprintf("%s/users/%s", r.Origin(), acc.Username)
	}
	return &domain.Actor{
		ActorURI:     actorURI,
		Username:     acc.Username,
		DisplayName:  acc.DisplayName,
		Bio:          acc.Bio,
		AvatarURL:    acc.AvatarURL,
		FullHandle:   domain.FullHandle(acc.Username, r.conf.Conf.SslDomain),
		InboxURI:     actorURI + "/inbox",
		FollowersURI: actorURI + "/followers",
		FollowingURI: actorURI + "/following",
		PublicKeyPem: acc.WebPublicKey,
		IsLocal:      true,
	}
}

// FetchActor fetches a remote actor document.
func (r *Resolver) FetchActor(ctx context.Context, actorURI string) (*domain.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("actor fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, &domain.NotFoundError{Resource: "actor"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor actorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	host, err := extractHost(actor.ID)
	if err != nil {
		return nil, err
	}

	return &domain.Actor{
		ActorURI:     actor.ID,
		Username:     actor.PreferredUsername,
		DisplayName:  actor.Name,
		Bio:          actor.Summary,
		AvatarURL:    actor.Icon.URL,
		FullHandle:   domain.FullHandle(actor.PreferredUsername, host),
		InboxURI:     actor.Inbox,
		FollowersURI: actor.Followers,
		FollowingURI: actor.Following,
		PublicKeyPem: actor.PublicKey.PublicKeyPem,
		IsLocal:      false,
	}, nil
}

// webfinger resolves a remote "name@host" to the actor URI.
func (r *Resolver) webfinger(ctx context.Context, name, host string) (string, error) {
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=acct:%s@%s",
		host, url.QueryEscape(name), host)

	req, err := http.NewRequestWithContext(ctx, "GET", wfURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &domain.NotFoundError{Resource: "actor"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger failed with status: %d", resp.StatusCode)
	}

	var wf webfingerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return "", fmt.Errorf("failed to parse webfinger JSON: %w", err)
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && strings.Contains(link.Type, "activity+json") {
			return link.Href, nil
		}
	}
	return "", &domain.NotFoundError{Resource: "actor"}
}

// extractHost extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractHost(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}

func hostnameOf(domainAndPort string) string {
	if idx := strings.LastIndex(domainAndPort, ":"); idx > 0 {
		return domainAndPort[:idx]
	}
	return domainAndPort
}
