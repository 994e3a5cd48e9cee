package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c0deZ3R0/go-chatsync-kit/events"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

const general = model.CID("messaging:general")

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func start(userID string, at time.Duration) events.TypingStart {
	return events.TypingStart{
		Header: events.Header{Type: events.TypeTypingStart, CID: general, CreatedAt: epoch.Add(at)},
		User:   model.User{ID: userID},
	}
}

func stop(userID string) events.TypingStop {
	return events.TypingStop{
		Header: events.Header{Type: events.TypeTypingStop, CID: general},
		User:   model.User{ID: userID},
	}
}

func userIDs(users []model.User) []string {
	out := []string{}
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestTracker_StartAndStop(t *testing.T) {
	tr := NewTracker(WithTTL(time.Minute))
	defer tr.Close()
	ctx := context.Background()

	tr.HandleEvent(ctx, start("bob", time.Second))
	tr.HandleEvent(ctx, start("alice", 0))
	assert.Equal(t, []string{"alice", "bob"}, userIDs(tr.Typers(general, "")))

	tr.HandleEvent(ctx, stop("alice"))
	assert.Equal(t, []string{"bob"}, userIDs(tr.Typers(general, "")))
	assert.Empty(t, tr.Typers("messaging:other", ""))
}

func TestTracker_RefreshKeepsStartTime(t *testing.T) {
	tr := NewTracker(WithTTL(time.Minute))
	defer tr.Close()
	ctx := context.Background()

	tr.HandleEvent(ctx, start("alice", 0))
	tr.HandleEvent(ctx, start("bob", time.Second))
	tr.HandleEvent(ctx, start("alice", 2*time.Second))
	assert.Equal(t, []string{"alice", "bob"}, userIDs(tr.Typers(general, "")))
}

func TestTracker_ThreadsAreSeparate(t *testing.T) {
	tr := NewTracker(WithTTL(time.Minute))
	defer tr.Close()

	ev := start("alice", 0)
	ev.ParentID = "m1"
	tr.HandleEvent(context.Background(), ev)

	assert.Empty(t, tr.Typers(general, ""))
	assert.Equal(t, []string{"alice"}, userIDs(tr.Typers(general, "m1")))
}

func TestTracker_IgnoresCurrentUser(t *testing.T) {
	tr := NewTracker(WithIgnoredUser("me"))
	defer tr.Close()
	tr.HandleEvent(context.Background(), start("me", 0))
	assert.Empty(t, tr.Typers(general, ""))
}

func TestTracker_EntriesExpire(t *testing.T) {
	tr := NewTracker(WithTTL(50 * time.Millisecond))
	defer tr.Close()

	var mu sync.Mutex
	var last []string
	cancel := tr.Subscribe(func(cid model.CID, parentID string, typers []model.User) {
		mu.Lock()
		defer mu.Unlock()
		last = userIDs(typers)
	})
	defer cancel()

	tr.HandleEvent(context.Background(), start("alice", 0))
	assert.Equal(t, []string{"alice"}, userIDs(tr.Typers(general, "")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tr.Typers(general, "")) == 0 && last != nil && len(last) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracker_IgnoresOtherEvents(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()
	tr.HandleEvent(context.Background(), events.MessageNew{Header: events.Header{Type: events.TypeMessageNew, CID: general}})
	assert.Empty(t, tr.Typers(general, ""))
}
