package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDrainRoundTrip(t *testing.T) {
	q := newSessionQueue(QueueConfig{DebounceMs: 1, Cap: 10, DropPolicy: DropOldest}, func() {})
	q.enqueue(Message{Text: "a"})
	q.enqueue(Message{Text: "b"})

	msgs := q.drain()
	require.Len(t, msgs, 2)
	require.Empty(t, q.drain())
}

func TestEnqueueDropOldestAtCapacity(t *testing.T) {
	q := newSessionQueue(QueueConfig{DebounceMs: 1, Cap: 2, DropPolicy: DropOldest}, func() {})
	q.enqueue(Message{Text: "1"})
	q.enqueue(Message{Text: "2"})
	q.enqueue(Message{Text: "3"})

	msgs := q.drain()
	require.Len(t, msgs, 2)
	require.Equal(t, "2", msgs[0].Text)
	require.Equal(t, "3", msgs[1].Text)
}

func TestEnqueueDropRejectAtCapacity(t *testing.T) {
	q := newSessionQueue(QueueConfig{DebounceMs: 1, Cap: 1, DropPolicy: DropReject}, func() {})
	require.True(t, q.enqueue(Message{Text: "1"}))
	require.False(t, q.enqueue(Message{Text: "2"}))

	msgs := q.drain()
	require.Len(t, msgs, 1)
	require.Equal(t, "1", msgs[0].Text)
}

func TestOnlyOneInFlightAtATime(t *testing.T) {
	q := newSessionQueue(QueueConfig{DebounceMs: 1, Cap: 10, DropPolicy: DropOldest}, func() {})
	require.True(t, q.tryStart())
	require.False(t, q.tryStart(), "a second turn must not start while one is in flight")
	q.finish()
	require.True(t, q.tryStart(), "finish must release the slot")
}

func TestFinishRefiresWhenMoreWorkQueued(t *testing.T) {
	fired := make(chan struct{}, 1)
	q := newSessionQueue(QueueConfig{DebounceMs: 1, Cap: 10, DropPolicy: DropOldest}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.True(t, q.tryStart())
	q.enqueue(Message{Text: "queued-while-running"})
	q.finish()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected finish to re-fire for queued work")
	}
}

func TestDebounceCoalescesBackToBackMessages(t *testing.T) {
	fireCount := 0
	q := newSessionQueue(QueueConfig{DebounceMs: 50, Cap: 10, DropPolicy: DropOldest}, func() {
		fireCount++
	})
	q.enqueue(Message{Text: "a"})
	time.Sleep(10 * time.Millisecond)
	q.enqueue(Message{Text: "b"})

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, fireCount, "back-to-back messages within the debounce window should fire once")
}
