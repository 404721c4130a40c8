package domain

import (
	"fmt"
	"time"
)

// ActivityKind is the closed set of protocol activity variants this server
// understands. Anything else is rejected at the inbox boundary.
type ActivityKind string

const (
	KindFollow ActivityKind = "Follow"
	KindAccept ActivityKind = "Accept"
	KindUndo   ActivityKind = "Undo"
	KindCreate ActivityKind = "Create"
	KindLike   ActivityKind = "Like"

	// KindNote is a payload object kind, stored for dereferencing but
	// never dispatched on at the inbox boundary.
	KindNote ActivityKind = "Note"
)

// ParseActivityKind maps a wire-level type string onto the closed variant
// set. The bool is false for unrecognized types.
func ParseActivityKind(s string) (ActivityKind, bool) {
	switch ActivityKind(s) {
	case KindFollow, KindAccept, KindUndo, KindCreate, KindLike:
		return ActivityKind(s), true
	}
	return "", false
}

// Activity is a stored protocol record, immutable once written and keyed by
// its own URI so a remote peer dereferencing the id later gets a stable
// answer. Logically append-only.
type Activity struct {
	URI       string
	Kind      ActivityKind
	ActorURI  string
	ObjectURI string
	RawJSON   string
	Local     bool // true if originated from this server
	CreatedAt time.Time
}

func (a *Activity) ToString() string {
	return fmt.Sprintf("\n\tURI: %s \n\tKind: %s \n\tActorURI: %s \n\tObjectURI: %s)", a.URI, a.Kind, a.ActorURI, a.ObjectURI)
}

// AttachmentKind narrows the media variants carried inside a Note.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "Image"
	AttachmentVideo    AttachmentKind = "Video"
	AttachmentDocument AttachmentKind = "Document"
)

func ParseAttachmentKind(s string) (AttachmentKind, bool) {
	switch AttachmentKind(s) {
	case AttachmentImage, AttachmentVideo, AttachmentDocument:
		return AttachmentKind(s), true
	}
	return "", false
}
