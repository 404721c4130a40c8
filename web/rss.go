package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/gorilla/feeds"

	"github.com/deemkeen/pachygram/domain"
)

const rssPageSize = 20

// HandleRSS serves the latest posts of one local user as RSS.
func (s *Server) HandleRSS(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")

	username := c.Query("username")
	if username == "" {
		c.Render(http.StatusNotFound, render.String{Format: ""})
		return
	}

	rss, err := s.buildRSS(c, username)
	if err != nil {
		c.Render(http.StatusNotFound, render.String{Format: ""})
		return
	}
	c.Render(http.StatusOK, render.String{Format: "%s", Data: []interface{}{rss}})
}

func (s *Server) buildRSS(c *gin.Context, username string) (string, error) {
	ctx := c.Request.Context()

	acc, err := s.db.ReadAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	actor := s.resolver.LocalActor(acc)

	posts, err := s.db.ReadPostsByAuthorBefore(ctx, actor.FullHandle, domain.FeedStart, rssPageSize)
	if err != nil {
		return "", err
	}

	email := fmt.Sprintf("%s@pachygram", acc.Username)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Pachygram - %s", acc.DisplayName),
		Link:        &feeds.Link{Href: actor.ActorURI},
		Description: fmt.Sprintf("latest posts by %s", actor.FullHandle),
		Author:      &feeds.Author{Name: acc.DisplayName, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range posts {
		feedItems = append(feedItems, &feeds.Item{
			Id:          post.URI,
			Title:       time.UnixMilli(post.Timestamp).Format(time.RFC1123),
			Link:        &feeds.Link{Href: post.URI},
			Content:     post.Caption,
			Enclosure:   &feeds.Enclosure{Url: post.MediaURL, Type: post.MediaType, Length: "0"},
			Author:      &feeds.Author{Name: acc.DisplayName, Email: email},
			Created:     time.UnixMilli(post.Timestamp),
			Description: post.Caption,
		})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
