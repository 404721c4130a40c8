package cache

import (
	"strings"
	"testing"

	"github.com/deemkeen/pachygram/domain"
)

func TestKeyHelpers(t *testing.T) {
	handle := "@alice@example.com"

	profile := ProfileKey(handle)
	followers := FollowersKey(handle, "l:abc")
	following := FollowingKey(handle, "l:abc")
	feedFirst := FeedKey(handle, domain.FeedStart)
	count := PostCountKey(handle)

	keys := map[string]string{
		"profile":   profile,
		"followers": followers,
		"following": following,
		"feed":      feedFirst,
		"count":     count,
	}

	seen := map[string]string{}
	for name, key := range keys {
		if key == "" {
			t.Errorf("%s key is empty", name)
		}
		if !strings.Contains(key, handle) {
			t.Errorf("%s key %q does not embed the handle", name, key)
		}
		if prev, dup := seen[key]; dup {
			t.Errorf("Key collision between %s and %s: %q", name, prev, key)
		}
		seen[key] = name
	}
}

func TestKeysVaryByCursor(t *testing.T) {
	handle := "@alice@example.com"

	if FollowersKey(handle, "") == FollowersKey(handle, "l:abc") {
		t.Error("Follower pages with different cursors must cache separately")
	}
	if FeedKey(handle, domain.FeedStart) == FeedKey(handle, 1700000000000) {
		t.Error("Feed pages with different cursors must cache separately")
	}
}
