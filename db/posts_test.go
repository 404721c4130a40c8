package db

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestToggleLikeUpdate(t *testing.T) {
	const actor = "https://remote.example/users/eve"

	pipeline := toggleLikeUpdate(actor)
	if len(pipeline) != 1 {
		t.Fatalf("Expected a single pipeline stage, got %d", len(pipeline))
	}

	set, ok := pipeline[0].(bson.M)["$set"].(bson.M)
	if !ok {
		t.Fatal("Stage is not a $set")
	}
	cond, ok := set["likedBy"].(bson.M)["$cond"].(bson.A)
	if !ok || len(cond) != 3 {
		t.Fatal("likedBy must be driven by a three-armed $cond")
	}

	in, ok := cond[0].(bson.M)["$in"].(bson.A)
	if !ok || in[0] != actor {
		t.Errorf("Membership check does not test the actor, got %v", cond[0])
	}

	// Both arms must operate on the same actor so a concurrent toggle by a
	// different actor never touches this one's entry.
	removal, ok := cond[1].(bson.M)["$setDifference"].(bson.A)
	if !ok {
		t.Fatal("Liked arm must remove via $setDifference")
	}
	if removed := removal[1].(bson.A); removed[0] != actor {
		t.Errorf("Removal arm targets %v, want %q", removed[0], actor)
	}

	addition, ok := cond[2].(bson.M)["$concatArrays"].(bson.A)
	if !ok {
		t.Fatal("Unliked arm must append via $concatArrays")
	}
	if added := addition[1].(bson.A); added[0] != actor {
		t.Errorf("Append arm targets %v, want %q", added[0], actor)
	}
}
