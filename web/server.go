// Package web is the HTTP facade: the JSON API consumed by first-party
// clients plus the federation surface other servers talk to.
package web

import (
	"fmt"
	"log"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/deemkeen/pachygram/activitypub"
	"github.com/deemkeen/pachygram/cache"
	"github.com/deemkeen/pachygram/db"
	"github.com/deemkeen/pachygram/feed"
	"github.com/deemkeen/pachygram/pager"
	"github.com/deemkeen/pachygram/util"
)

type Server struct {
	conf       *util.AppConfig
	db         *db.DB
	cache      *cache.Cache
	service    *activitypub.Service
	aggregator *feed.Aggregator
	pager      *pager.Pager
	resolver   *activitypub.Resolver
}

func NewServer(conf *util.AppConfig, database *db.DB, c *cache.Cache, service *activitypub.Service,
	aggregator *feed.Aggregator, pgr *pager.Pager, resolver *activitypub.Resolver) *Server {
	return &Server{
		conf:       conf,
		db:         database,
		cache:      c,
		service:    service,
		aggregator: aggregator,
		pager:      pgr,
		resolver:   resolver,
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS feed
	g.GET("/feed", s.HandleRSS)

	// JSON API. Registration is the only route reachable without an
	// existing account; everything else sits behind the session.
	api := g.Group("/api")
	api.POST("/users/me", s.HandleRegister)

	// On GET routes "me" travels through the :handle wildcard; gin's tree
	// does not allow a static sibling next to it.
	authed := api.Group("")
	authed.Use(s.SessionMiddleware())
	{
		authed.GET("/users/:handle", s.HandleProfile)
		authed.PUT("/users/me", s.HandleUpdateProfile)
		authed.GET("/users/:handle/followers", s.HandleFollowers)
		authed.GET("/users/:handle/following", s.HandleFollowing)
		authed.POST("/users/me/follows/:handle", s.HandleFollow)
		authed.DELETE("/users/me/follows/:handle", s.HandleUnfollow)
		authed.POST("/users/me/posts", s.HandleCreatePost)
		authed.GET("/users/:handle/feed", s.HandleFeed)
		authed.POST("/posts/like", s.HandleLike)
	}

	// Federation endpoints
	if s.conf.Conf.WithAp {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for inbound activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/.well-known/webfinger", s.HandleWebfinger)
		g.GET("/users/:name", s.HandleActor)
		g.GET("/users/:name/:kind", s.HandleActorCollection)
		g.GET("/users/:name/:kind/:guid", s.HandleObject)
		g.POST("/users/:name/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleUserInbox)
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleSharedInbox)
	}

	return g
}

// Run starts the HTTP server and blocks until it fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	log.Printf("Starting HTTP server on %s", addr)
	return s.Router().Run(addr)
}
