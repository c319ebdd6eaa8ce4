package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ch1, cancel1 := hub.Subscribe()
	ch2, cancel2 := hub.Subscribe()
	defer cancel1()
	defer cancel2()

	notice := ClearNotice{ProjectID: "abc123", AIName: "gemini", ClearedBy: "user"}
	hub.Publish(notice)

	for _, ch := range []<-chan ClearNotice{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, notice.ProjectID, got.ProjectID)
			assert.Equal(t, "gemini", got.AIName)
		case <-time.After(time.Second):
			t.Fatal("notice not delivered")
		}
	}
}

func TestHubSlowSubscriberDropsNotices(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Publish never blocks, even past the subscriber buffer.
	for i := 0; i < 50; i++ {
		hub.Publish(ClearNotice{ProjectID: "abc123"})
	}
	assert.NotEmpty(t, ch)
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	hub.Publish(ClearNotice{ProjectID: "abc123"})
}
