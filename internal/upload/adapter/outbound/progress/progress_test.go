package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress")
		return ""
	}
}

func TestHub_BroadcastsInOrder(t *testing.T) {
	hub := NewHub(16)
	a, b := hub.Subscribe(), hub.Subscribe()
	assert.Equal(t, 2, hub.Count())

	for _, label := range []string{"10%", "20%", "30%"} {
		hub.Notify(context.Background(), label)
	}

	for _, sub := range []*Subscription{a, b} {
		assert.Equal(t, "10%", receive(t, sub))
		assert.Equal(t, "20%", receive(t, sub))
		assert.Equal(t, "30%", receive(t, sub))
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Notify(context.Background(), "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full subscriber")
	}
	assert.Len(t, slow.C(), 2)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe()
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Count())

	// No panic sending after unsubscribe.
	hub.Notify(context.Background(), "10%")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := hub.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
	hub.Notify(context.Background(), "10%")
}

func TestHub_ConcurrentNotifyAndUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := hub.Subscribe()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Notify(context.Background(), "x")
			}
		}()
		go func() {
			defer wg.Done()
			hub.Unsubscribe(sub)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Count())
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, LogNotifier{}, b}.Notify(context.Background(), "50%")
	assert.Equal(t, []string{"50%"}, a.msgs)
	assert.Equal(t, []string{"50%"}, b.msgs)
}

func TestRedisPublisherAndRelay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	hub := NewHub(16)
	sub := hub.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- NewRedisRelay(client, "upload:progress", hub).Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("upload:progress")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := NewRedisPublisher(client, "upload:progress")
	pub.Notify(context.Background(), "10%")
	pub.Notify(context.Background(), "20%")

	assert.Equal(t, "10%", receive(t, sub))
	assert.Equal(t, "20%", receive(t, sub))

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	mr.Close()

	// Absorbs the failure.
	NewRedisPublisher(client, "upload:progress").Notify(context.Background(), "10%")
}
