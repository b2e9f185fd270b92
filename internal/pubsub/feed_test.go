package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestFeed_SubscribeReplaysLatest(t *testing.T) {
	f := NewFeed[int]()
	f.Publish(1)
	f.Publish(2)

	ch := f.Subscribe(context.Background())
	assert.Equal(t, 2, recv(t, ch))

	f.Publish(3)
	assert.Equal(t, 3, recv(t, ch))
}

func TestFeed_SlowSubscriberSeesNewest(t *testing.T) {
	f := NewFeed[int]()
	ch := f.Subscribe(context.Background())

	for i := 1; i <= 10; i++ {
		f.Publish(i)
	}
	assert.Equal(t, 10, recv(t, ch))

	select {
	case v := <-ch:
		t.Fatalf("unexpected backlog value %d", v)
	default:
	}
}

func TestFeed_CancelClosesSubscription(t *testing.T) {
	f := NewFeed[string]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx)
	require.Equal(t, 1, f.Subscribers())

	cancel()
	require.Eventually(t, func() bool { return f.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFeed_Close(t *testing.T) {
	f := NewFeed[int]()
	ch := f.Subscribe(context.Background())
	f.Close()

	_, ok := <-ch
	assert.False(t, ok)

	f.Publish(1)
	_, has := f.Latest()
	assert.False(t, has)

	late := f.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}

func TestMergingFeed_FoldsPendingValues(t *testing.T) {
	f := NewMergingFeed(func(pending, next []int) []int {
		return append(append([]int(nil), pending...), next...)
	})
	f.Publish([]int{0})

	ch := f.Subscribe(context.Background())
	f.Publish([]int{1})
	f.Publish([]int{2, 3})
	assert.Equal(t, []int{1, 2, 3}, recv(t, ch), "no replay, pending values merged")

	f.Publish([]int{4})
	assert.Equal(t, []int{4}, recv(t, ch))
}
