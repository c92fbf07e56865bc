package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/ytjobs/internal/model"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_PublishFansOut(t *testing.T) {
	hub := NewHub()
	a, leaveA := hub.Subscribe()
	defer leaveA()
	b, leaveB := hub.Subscribe()
	defer leaveB()

	require.NoError(t, hub.Publish(context.Background(), model.NewProgressEvent("cat-1", "job-1", 40)))

	want := `{"type":"progress","catalog_id":"cat-1","job_id":"job-1","percent":40}`
	assert.JSONEq(t, want, string(receive(t, a)))
	assert.JSONEq(t, want, string(receive(t, b)))
}

func TestHub_EncodeOmitsEmptyFields(t *testing.T) {
	msg, err := Encode(model.Event{Type: model.EventComplete, CatalogID: "cat-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"complete","catalog_id":"cat-1"}`, string(msg))
}

func TestHub_BroadcastIsVerbatim(t *testing.T) {
	hub := NewHub()
	ch, leave := hub.Subscribe()
	defer leave()

	raw := []byte(`{"type":"custom","extra":true}`)
	hub.Broadcast(raw)
	assert.Equal(t, raw, receive(t, ch))
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub()
	ch, leave := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	leave()
	leave()
	assert.Equal(t, 0, hub.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := hub.Subscribe()
	hub.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, leave := hub.Subscribe()
	defer leave()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Broadcast([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, model.Event) error { return f.err }

func TestMulti_PublishesToAll(t *testing.T) {
	hub := NewHub()
	ch, leave := hub.Subscribe()
	defer leave()

	boom := errors.New("boom")
	err := Multi{failingPublisher{err: boom}, hub}.Publish(context.Background(), model.Event{Type: model.EventStarted, CatalogID: "c"})
	assert.ErrorIs(t, err, boom)
	assert.JSONEq(t, `{"type":"started","catalog_id":"c"}`, string(receive(t, ch)))
}
