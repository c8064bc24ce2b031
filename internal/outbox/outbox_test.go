package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linkchat/internal/outbox"
)

func TestLatest_NewestWins(t *testing.T) {
	l := outbox.NewLatest()

	assert.True(t, l.Offer("one"))
	assert.True(t, l.Offer("two"))
	assert.True(t, l.Offer("three"))
	assert.Equal(t, 1, l.Len())

	got, err := l.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "three", got)
	assert.Equal(t, 0, l.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatest_WakesBlockedWriter(t *testing.T) {
	l := outbox.NewLatest()
	got := make(chan string, 1)

	go func() {
		text, err := l.Next(context.Background())
		if err == nil {
			got <- text
		}
	}()

	time.Sleep(20 * time.Millisecond)
	l.Offer("hello")

	select {
	case text := <-got:
		assert.Equal(t, "hello", text)
	case <-time.After(time.Second):
		t.Fatal("writer was not woken")
	}
}

func TestLatest_OfferAfterCloseIsDropped(t *testing.T) {
	l := outbox.NewLatest()
	l.Offer("pending")
	l.Close()

	assert.False(t, l.Offer("late"))

	_, err := l.Next(context.Background())
	assert.ErrorIs(t, err, outbox.ErrClosed)
}

func TestQueue_PreservesOrder(t *testing.T) {
	q := outbox.NewQueue(0)
	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Offer(s))
	}
	assert.Equal(t, 3, q.Len())

	var got []string
	for i := 0; i < 3; i++ {
		text, err := q.Next(context.Background())
		require.NoError(t, err)
		got = append(got, text)
	}

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Limit(t *testing.T) {
	q := outbox.NewQueue(2)

	assert.True(t, q.Offer("a"))
	assert.True(t, q.Offer("b"))
	assert.False(t, q.Offer("c"))

	_, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Offer("c"))
}

func TestQueue_ConcurrentOffersNeverBlock(t *testing.T) {
	q := outbox.NewQueue(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Offer("x")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())
}

func TestQueue_CloseWakesWriter(t *testing.T) {
	q := outbox.NewQueue(0)
	errCh := make(chan error, 1)

	go func() {
		_, err := q.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, outbox.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("writer was not woken by Close")
	}
	assert.False(t, q.Offer("late"))
}
