package web

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/deemkeen/pachygram/activitypub"
	"github.com/deemkeen/pachygram/domain"
)

// apActor is the wire shape of the actor document this server publishes.
type apActor struct {
	Context           []string `json:"@context"`
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	PreferredUsername string   `json:"preferredUsername"`
	Name              string   `json:"name"`
	Summary           string   `json:"summary"`
	Inbox             string   `json:"inbox"`
	Outbox            string   `json:"outbox"`
	Followers         string   `json:"followers"`
	Following         string   `json:"following"`
	Icon              *apIcon  `json:"icon,omitempty"`
	PublicKey         apKey    `json:"publicKey"`
}

type apIcon struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type apKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// HandleActor serves the actor document of a local account.
func (s *Server) HandleActor(c *gin.Context) {
	c.Header("Content-Type", "application/activity+json; charset=utf-8")

	name := c.Param("name")
	acc, err := s.db.ReadAccountByUsername(c.Request.Context(), name)
	if err != nil {
		if !notFoundIfMissing(c, err) {
			abortWithError(c, err)
		}
		return
	}

	actor := s.resolver.LocalActor(acc)
	c.JSON(http.StatusOK, apActor{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actor.ActorURI,
		Type:              "Person",
		PreferredUsername: acc.Username,
		Name:              acc.DisplayName,
		Summary:           acc.Bio,
		Inbox:             actor.InboxURI,
		Outbox:            actor.ActorURI + "/outbox",
		Followers:         actor.FollowersURI,
		Following:         actor.FollowingURI,
		Icon:              iconOf(acc.AvatarURL),
		PublicKey: apKey{
			ID:           actor.ActorURI + "#main-key",
			Owner:        actor.ActorURI,
			PublicKeyPem: acc.WebPublicKey,
		},
	})
}

func iconOf(avatarURL string) *apIcon {
	if avatarURL == "" {
		return nil
	}
	return &apIcon{Type: "Image", URL: avatarURL}
}

// HandleActorCollection serves the followers/following collections of a
// local account as OrderedCollectionPages, and an empty outbox.
func (s *Server) HandleActorCollection(c *gin.Context) {
	c.Header("Content-Type", "application/activity+json; charset=utf-8")

	name := c.Param("name")
	kind := c.Param("kind")

	acc, err := s.db.ReadAccountByUsername(c.Request.Context(), name)
	if err != nil {
		if !notFoundIfMissing(c, err) {
			abortWithError(c, err)
		}
		return
	}
	actor := s.resolver.LocalActor(acc)

	switch kind {
	case "followers":
		s.serveEdgeCollection(c, actor, actor.FollowersURI, true)
	case "following":
		s.serveEdgeCollection(c, actor, actor.FollowingURI, false)
	case "outbox":
		c.JSON(http.StatusOK, gin.H{
			"@context":     "https://www.w3.org/ns/activitystreams",
			"id":           actor.ActorURI + "/outbox",
			"type":         "OrderedCollection",
			"totalItems":   0,
			"orderedItems": []string{},
		})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	}
}

func (s *Server) serveEdgeCollection(c *gin.Context, actor *domain.Actor, collectionURI string, followers bool) {
	ctx := c.Request.Context()
	cursorKey := c.Query("cursor")
	limit := s.conf.Conf.PageSize

	var uris []string
	var nextKey string
	var isLast bool
	var total int64
	var err error

	if followers {
		var rows []domain.Follower
		rows, nextKey, isLast, err = s.db.ListFollowers(ctx, actor.ActorURI, cursorKey, limit)
		for _, r := range rows {
			uris = append(uris, r.FollowerURI)
		}
		if err == nil {
			total, err = s.db.CountFollowers(ctx, actor.ActorURI)
		}
	} else {
		var rows []domain.Following
		rows, nextKey, isLast, err = s.db.ListFollowing(ctx, actor.ActorURI, cursorKey, limit)
		for _, r := range rows {
			uris = append(uris, r.FolloweeURI)
		}
		if err == nil {
			total, err = s.db.CountFollowing(ctx, actor.ActorURI)
		}
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	if uris == nil {
		uris = []string{}
	}

	page := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           collectionURI + pageSuffix(cursorKey),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURI,
		"totalItems":   total,
		"orderedItems": uris,
	}
	if !isLast {
		page["next"] = collectionURI + "?cursor=" + nextKey
	}
	c.JSON(http.StatusOK, page)
}

func pageSuffix(cursorKey string) string {
	if cursorKey == "" {
		return ""
	}
	return "?cursor=" + cursorKey
}

// HandleObject dereferences a server-minted activity or note by its URI.
// The stored raw JSON is replayed byte for byte so signatures and digests
// computed by peers keep matching.
func (s *Server) HandleObject(c *gin.Context) {
	c.Header("Content-Type", "application/activity+json; charset=utf-8")

	uri := s.resolver.Origin() + c.Request.URL.Path
	activity, err := s.db.ReadActivityByURI(c.Request.Context(), uri)
	if err != nil {
		if !notFoundIfMissing(c, err) {
			abortWithError(c, err)
		}
		return
	}
	if !activity.Local {
		// Remote records are stored for bookkeeping only, their home
		// server is the authority for dereferencing
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	c.Render(http.StatusOK, render.String{Format: "%s", Data: []interface{}{activity.RawJSON}})
}

// HandleUserInbox accepts a signed activity addressed to one local user.
func (s *Server) HandleUserInbox(c *gin.Context) {
	name := c.Param("name")
	log.Printf("POST /users/%s/inbox", name)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	s.processInbox(c, name, body)
}

// HandleSharedInbox accepts a signed activity without a user in the path
// and routes it by the activity's addressing.
func (s *Server) HandleSharedInbox(c *gin.Context) {
	log.Println("POST /inbox (shared inbox)")

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	name := s.routeSharedInbox(c, body)
	if name == "" {
		// Accept anyway so well-meaning peers do not retry forever
		c.Status(http.StatusAccepted)
		return
	}

	log.Printf("Shared inbox: Routing to user %s", name)
	s.processInbox(c, name, body)
}

func (s *Server) processInbox(c *gin.Context, name string, body []byte) {
	ctx := c.Request.Context()

	var envelope struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed activity"})
		return
	}

	remoteActor, err := s.resolver.Resolve(ctx, envelope.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to resolve signing actor %s: %v", envelope.Actor, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown actor"})
		return
	}

	if !verifyDigest(c.Request, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Digest mismatch"})
		return
	}
	if _, err := activitypub.VerifyRequest(c.Request, remoteActor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed for %s: %v", envelope.Actor, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	if err := s.service.HandleInbox(ctx, name, body, remoteActor); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// verifyDigest checks the SHA-256 Digest header against the actual body.
func verifyDigest(r *http.Request, body []byte) bool {
	digest := r.Header.Get("Digest")
	if digest == "" {
		return false
	}
	sum := sha256.Sum256(body)
	expected := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	return digest == expected
}

// routeSharedInbox finds the local user an unaddressed activity is meant
// for: first the to/cc fields, then a Follow object, then the follower
// relationship of the sending actor.
func (s *Server) routeSharedInbox(c *gin.Context, body []byte) string {
	var activity struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		To     []string        `json:"to"`
		Cc     []string        `json:"cc"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Shared inbox: Failed to parse activity: %v", err)
		return ""
	}

	for _, uri := range append(activity.To, activity.Cc...) {
		if name := s.localUsernameOf(uri); name != "" {
			return name
		}
	}

	var objectURI string
	if err := json.Unmarshal(activity.Object, &objectURI); err == nil {
		if name := s.localUsernameOf(objectURI); name != "" {
			return name
		}
	}

	// Creates carry no local addressing; deliver to the first local
	// follower of the sending actor
	if activity.Actor != "" {
		accs, err := s.db.ListLocalFollowersOf(c.Request.Context(), activity.Actor)
		if err == nil && len(accs) > 0 {
			return accs[0].Username
		}
		log.Printf("Shared inbox: No local followers found for %s", activity.Actor)
	}

	log.Printf("Shared inbox: Could not determine target for activity type %q", activity.Type)
	return ""
}

// localUsernameOf extracts the username from a locally minted user URI,
// tolerating /followers style suffixes.
func (s *Server) localUsernameOf(uri string) string {
	prefix := s.resolver.Origin() + "/users/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(uri, prefix)
	if idx := strings.Index(rest, "/"); idx > 0 {
		rest = rest[:idx]
	}
	return rest
}
