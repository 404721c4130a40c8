package domain

import (
	"fmt"
)

// Post is a published media object, authored locally or ingested from a
// remote Create(Note) activity. Timestamp (epoch millis) is the sole
// ordering key for feed and pagination.
type Post struct {
	URI        string
	UserHandle string // author's "@name@host"
	MediaURL   string
	MediaType  string
	Caption    string
	LikedBy    []string // actor URIs
	Timestamp  int64    // epoch millis
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tURI: %s \n\tUserHandle: %s \n\tMediaURL: %s \n\tTimestamp: %d)", p.URI, p.UserHandle, p.MediaURL, p.Timestamp)
}

// FeedPost is a Post annotated for feed delivery: posts do not store
// denormalized author metadata, so locality and the author's current
// avatar are attached at merge time.
type FeedPost struct {
	Post
	IsInternalUser bool
	AuthorAvatar   string
}
