package db

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// duplicateKeyError builds an error IsMongoDuplicateKeyError recognizes.
func duplicateKeyError(key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error dup key: { : \"%s\" }", key),
	}}}
}

func TestWithRetries_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return nil
	}, 3, IsMongoDuplicateKeyError)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetries_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("not a duplicate key")
	err := WithRetries(func() error {
		calls++
		return boom
	}, 3, IsMongoDuplicateKeyError)

	if !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetries_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return duplicateKeyError("abc")
	}, 2, IsMongoDuplicateKeyError)

	if err == nil {
		t.Fatal("expected a duplicate key error after exhausting retries")
	}
	if !IsMongoDuplicateKeyError(err) {
		t.Errorf("expected a duplicate key error, got %T: %v", err, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

// An insert that draws a fresh SixID per attempt recovers from an ID
// collision on retry. The hook feeds a colliding ID twice, then a free one.
func TestTry_IDCollisionResolves(t *testing.T) {
	original := utils.NewSixIDHook
	defer func() { utils.NewSixIDHook = original }()

	colliding := utils.SixID{9, 9, 9, 9, 9, 1}
	free := utils.SixID{9, 9, 9, 9, 9, 2}
	sequence := []utils.SixID{colliding, colliding, free}
	next := 0
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		if next < len(sequence) {
			id := sequence[next]
			next++
			return id, true
		}
		return utils.SixID{}, false
	}

	taken := map[utils.SixID]bool{colliding: true}
	calls := 0
	err := Try(func() error {
		calls++
		id := utils.NewSixID()
		if taken[id] {
			return duplicateKeyError(id.String())
		}
		taken[id] = true
		return nil
	})

	if err != nil {
		t.Fatalf("expected collision to resolve, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !taken[free] {
		t.Errorf("expected %s to be inserted on the final attempt", free.String())
	}
}
