package domain

import (
	"math"
	"strings"
)

// FeedStart is the "no lower bound yet" sentinel for feed pagination and
// FeedEnd signals an exhausted feed.
const (
	FeedStart int64 = math.MaxInt64
	FeedEnd   int64 = -1
)

// CursorKind distinguishes the two cursor sources hiding behind one opaque
// string: a local insertion-order key vs. a remote-controlled continuation
// token. Keeping them as a tagged union avoids cursor-confusion bugs.
type CursorKind int

const (
	CursorLocal CursorKind = iota
	CursorRemote
)

const (
	localCursorPrefix  = "l:"
	remoteCursorPrefix = "r:"
)

// Cursor is a tagged collection-pagination cursor. The zero value is the
// "start of page 1" sentinel.
type Cursor struct {
	Kind  CursorKind
	Key   string // local insertion-order key, hex ObjectID
	Token string // opaque remote page URI/token
}

func LocalCursor(key string) Cursor {
	return Cursor{Kind: CursorLocal, Key: key}
}

func RemoteCursor(token string) Cursor {
	return Cursor{Kind: CursorRemote, Token: token}
}

// Start reports whether this cursor denotes the beginning of a collection.
func (c Cursor) Start() bool {
	return c.Key == "" && c.Token == ""
}

// Encode renders the cursor as the opaque wire string. The start cursor
// encodes as the empty string.
func (c Cursor) Encode() string {
	switch {
	case c.Start():
		return ""
	case c.Kind == CursorRemote:
		return remoteCursorPrefix + c.Token
	default:
		return localCursorPrefix + c.Key
	}
}

// DecodeCursor parses a wire cursor string. An empty string is the start
// cursor; anything without a recognized tag is a validation error.
func DecodeCursor(s string) (Cursor, error) {
	switch {
	case s == "":
		return Cursor{}, nil
	case strings.HasPrefix(s, localCursorPrefix):
		return LocalCursor(strings.TrimPrefix(s, localCursorPrefix)), nil
	case strings.HasPrefix(s, remoteCursorPrefix):
		return RemoteCursor(strings.TrimPrefix(s, remoteCursorPrefix)), nil
	}
	return Cursor{}, &ValidationError{Reason: "unrecognized cursor"}
}
