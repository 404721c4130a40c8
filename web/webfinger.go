package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerDoc struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// HandleWebfinger answers discovery queries for local accounts. Only
// "acct:" resources on this server's domain resolve.
func (s *Server) HandleWebfinger(c *gin.Context) {
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")

	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	name, host, found := strings.Cut(acct, "@")
	if name == "" || (found && !strings.EqualFold(host, s.conf.Conf.SslDomain)) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	acc, err := s.db.ReadAccountByUsername(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	c.JSON(http.StatusOK, webfingerDoc{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, s.conf.Conf.SslDomain),
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: s.resolver.Origin() + "/users/" + acc.Username,
			},
		},
	})
}
