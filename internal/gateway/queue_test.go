package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func msg(i int) PendingMessage {
	return PendingMessage{Topic: fmt.Sprintf("gree/dev%d/set", i), Payload: []byte("{}")}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 3; i++ {
		if _, evicted := q.Push(msg(i)); evicted {
			t.Fatalf("push %d evicted below capacity", i)
		}
	}

	dropped, evicted := q.Push(msg(4))
	if !evicted || dropped.Topic != msg(1).Topic {
		t.Fatalf("Push at capacity = (%v, %v), want eviction of %s", dropped.Topic, evicted, msg(1).Topic)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	ctx := context.Background()
	for _, want := range []int{2, 3, 4} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got.Topic != msg(want).Topic {
			t.Errorf("Pop() = %s, want %s", got.Topic, msg(want).Topic)
		}
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue(1)
	got := make(chan PendingMessage, 1)
	go func() {
		m, err := q.Pop(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(msg(7))

	select {
	case m := <-got:
		if m.Topic != msg(7).Topic {
			t.Errorf("Pop() = %s", m.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake on Push")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() error = %v, want context.Canceled", err)
	}
}

func TestQueueManyConsumersDrainEverything(t *testing.T) {
	const total = 200
	q := NewQueue(total)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[m.Topic]++
				mu.Unlock()
			}
		}()
	}

	for i := range total {
		q.Push(msg(i))
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == total || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("consumed %d distinct messages, want %d", len(seen), total)
	}
	for topic, n := range seen {
		if n != 1 {
			t.Errorf("%s consumed %d times", topic, n)
		}
	}
}

func TestNewQueueDefaultCapacity(t *testing.T) {
	if got := NewQueue(0).Cap(); got != DefaultQueueSize {
		t.Errorf("Cap() = %d, want %d", got, DefaultQueueSize)
	}
}
