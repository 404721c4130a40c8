package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deemkeen/pachygram/cache"
	"github.com/deemkeen/pachygram/domain"
	"github.com/deemkeen/pachygram/pager"
	"github.com/deemkeen/pachygram/util"
)

type registerRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatarUrl"`
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatarUrl"`
}

type createPostRequest struct {
	MediaURL  string `json:"mediaUrl" binding:"required"`
	MediaType string `json:"mediaType" binding:"required"`
	Caption   string `json:"caption"`
}

type likeRequest struct {
	URI string `json:"uri" binding:"required"`
}

type profileResponse struct {
	Handle      string `json:"handle"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatarUrl"`
	ActorURI    string `json:"actorUri"`
	IsLocal     bool   `json:"isLocal"`
	Followers   int64  `json:"followers"`
	Following   int64  `json:"following"`
	Posts       int64  `json:"posts"`
}

// HandleRegister creates the account for the proxy-authenticated subject.
// The username is derived from the display name; collisions get a short
// random suffix instead of failing.
func (s *Server) HandleRegister(c *gin.Context) {
	subject := c.GetHeader(subjectHeader)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing auth subject"})
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayName is required"})
		return
	}

	username := util.Slugify(req.DisplayName)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayName yields an empty username"})
		return
	}
	if _, err := s.db.ReadAccountByUsername(c.Request.Context(), username); err == nil {
		username = fmt.Sprintf("%s-%s", username, util.RandomString(8))
	}

	keys := util.GeneratePemKeypair()
	acc := &domain.Account{
		Subject:       subject,
		Username:      username,
		DisplayName:   util.NormalizeInput(req.DisplayName),
		Bio:           util.NormalizeInput(req.Bio),
		AvatarURL:     req.AvatarURL,
		ActorURI:      s.resolver.Origin() + "/users/" + username,
		WebPublicKey:  keys.Public,
		WebPrivateKey: keys.Private,
		CreatedAt:     time.Now(),
	}

	if err := s.db.CreateAccount(c.Request.Context(), acc); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, s.profileOf(c, acc))
}

// HandleProfile serves a profile by handle; "me" is the session account.
func (s *Server) HandleProfile(c *gin.Context) {
	handle := c.Param("handle")
	if handle == "me" {
		c.JSON(http.StatusOK, s.profileOf(c, currentAccount(c)))
		return
	}

	var cached profileResponse
	key := cache.ProfileKey(handle)
	if s.cache.GetJSON(c.Request.Context(), key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	actor, err := s.resolver.Resolve(c.Request.Context(), handle)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := profileResponse{
		Handle:      actor.FullHandle,
		Username:    actor.Username,
		DisplayName: actor.DisplayName,
		Bio:         actor.Bio,
		AvatarURL:   actor.AvatarURL,
		ActorURI:    actor.ActorURI,
		IsLocal:     actor.IsLocal,
	}
	if actor.IsLocal {
		s.fillCounts(c, &resp, actor)
	}

	s.cache.SetJSON(c.Request.Context(), key, resp, cache.ProfileTTL)
	c.JSON(http.StatusOK, resp)
}

// HandleUpdateProfile patches the session account's mutable fields.
func (s *Server) HandleUpdateProfile(c *gin.Context) {
	acc := currentAccount(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	displayName := acc.DisplayName
	if req.DisplayName != "" {
		displayName = util.NormalizeInput(req.DisplayName)
	}
	bio := util.NormalizeInput(req.Bio)
	avatarURL := req.AvatarURL
	if avatarURL == "" {
		avatarURL = acc.AvatarURL
	}

	updated, err := s.db.UpdateAccountProfile(c.Request.Context(), acc.Subject, displayName, bio, avatarURL)
	if err != nil {
		abortWithError(c, err)
		return
	}

	localActor := s.resolver.LocalActor(updated)
	s.cache.InvalidateProfileChange(c.Request.Context(), localActor.FullHandle)
	c.JSON(http.StatusOK, s.profileOf(c, updated))
}

// HandleFollowers serves one page of an actor's followers.
func (s *Server) HandleFollowers(c *gin.Context) {
	s.handleCollection(c, pager.RelationFollowers)
}

// HandleFollowing serves one page of the actors someone follows.
func (s *Server) HandleFollowing(c *gin.Context) {
	s.handleCollection(c, pager.RelationFollowing)
}

func (s *Server) handleCollection(c *gin.Context, relation pager.Relation) {
	handle := c.Param("handle")
	var actor *domain.Actor
	var err error

	if handle == "me" {
		actor = s.resolver.LocalActor(currentAccount(c))
	} else {
		actor, err = s.resolver.Resolve(c.Request.Context(), handle)
		if err != nil {
			abortWithError(c, err)
			return
		}
	}

	page, err := s.pager.Collection(c.Request.Context(), actor, relation, c.Query("cursor"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// HandleFollow initiates a follow. The local edge commits before the
// federated handshake finishes, so the reply is 202, not 200.
func (s *Server) HandleFollow(c *gin.Context) {
	acc := currentAccount(c)
	target, err := s.service.Follow(c.Request.Context(), acc, c.Param("handle"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"following": target.FullHandle})
}

// HandleUnfollow retracts a follow.
func (s *Server) HandleUnfollow(c *gin.Context) {
	acc := currentAccount(c)
	if err := s.service.Unfollow(c.Request.Context(), acc, c.Param("handle")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCreatePost publishes a post. Local persistence is synchronous,
// follower delivery is not.
func (s *Server) HandleCreatePost(c *gin.Context) {
	acc := currentAccount(c)

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mediaUrl and mediaType are required"})
		return
	}

	post, err := s.service.CreatePost(c.Request.Context(), acc, req.MediaURL, req.MediaType, req.Caption)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, post)
}

// HandleFeed serves one page of the session account's home timeline.
func (s *Server) HandleFeed(c *gin.Context) {
	if c.Param("handle") != "me" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No such feed"})
		return
	}
	acc := currentAccount(c)

	cursor := domain.FeedStart
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed feed cursor"})
			return
		}
		cursor = parsed
	}

	page, err := s.aggregator.Assemble(c.Request.Context(), acc, cursor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// HandleLike toggles the session account's like on a post.
func (s *Server) HandleLike(c *gin.Context) {
	acc := currentAccount(c)

	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uri is required"})
		return
	}

	liked, count, err := s.service.ToggleLike(c.Request.Context(), acc, req.URI)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked, "likes": count})
}

// profileOf builds the profile response of a local account, counts
// included.
func (s *Server) profileOf(c *gin.Context, acc *domain.Account) profileResponse {
	actor := s.resolver.LocalActor(acc)
	resp := profileResponse{
		Handle:      actor.FullHandle,
		Username:    acc.Username,
		DisplayName: acc.DisplayName,
		Bio:         acc.Bio,
		AvatarURL:   acc.AvatarURL,
		ActorURI:    acc.ActorURI,
		IsLocal:     true,
	}
	s.fillCounts(c, &resp, actor)
	return resp
}

func (s *Server) fillCounts(c *gin.Context, resp *profileResponse, actor *domain.Actor) {
	ctx := c.Request.Context()
	if n, err := s.db.CountFollowers(ctx, actor.ActorURI); err == nil {
		resp.Followers = n
	}
	if n, err := s.db.CountFollowing(ctx, actor.ActorURI); err == nil {
		resp.Following = n
	}

	key := cache.PostCountKey(actor.FullHandle)
	var cached int64
	if s.cache.GetJSON(ctx, key, &cached) {
		resp.Posts = cached
		return
	}
	if n, err := s.db.CountPostsByHandle(ctx, actor.FullHandle); err == nil {
		resp.Posts = n
		s.cache.SetJSON(ctx, key, n, cache.CountTTL)
	}
}

// notFoundIfMissing maps storage misses to a plain 404 on read-only
// federation endpoints that never expose error details.
func notFoundIfMissing(c *gin.Context, err error) bool {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return true
	}
	return false
}
