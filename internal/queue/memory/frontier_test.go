package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

func TestFrontierFIFO(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	for _, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		require.NoError(t, f.Push(u))
	}
	require.Equal(t, 3, f.Len())

	ctx := context.Background()
	for _, want := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		got, err := f.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Zero(t, f.Len())
}

func TestFrontierRejectsRelativeURLs(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	for _, bad := range []string{"", "/relative", "mailto:x@y.test", "javascript:void(0)", "ftp://a.test/f"} {
		err := f.Push(bad)
		require.ErrorIs(t, err, crawler.ErrInvalidURL, bad)
	}
	require.Zero(t, f.Len())
}

func TestFrontierPopWaitsForPush(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	result := make(chan string, 1)
	go func() {
		u, err := f.Pop(context.Background())
		if err == nil {
			result <- u
		}
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	require.NoError(t, f.Push("https://a.test/late"))

	select {
	case got := <-result:
		require.Equal(t, "https://a.test/late", got)
	case <-time.After(time.Second):
		t.Fatal("pop did not return pushed url")
	}
}

func TestFrontierCancelation(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Pop(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualError(t, err, "frontier pop canceled: context canceled")
}

func TestFrontierCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.NoError(t, f.Push("https://a.test/kept"))
	f.Close()
	f.Close()

	require.ErrorIs(t, f.Push("https://a.test/after"), crawler.ErrFrontierClosed)

	got, err := f.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://a.test/kept", got)

	_, err = f.Pop(context.Background())
	require.ErrorIs(t, err, crawler.ErrFrontierClosed)
}

func TestFrontierCloseWakesAllWaiters(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	const waiters = 8
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Pop(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	f.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.True(t, errors.Is(err, crawler.ErrFrontierClosed))
	}
}

func TestFrontierConcurrentProducersConsumers(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	const producers, perProducer = 4, 250
	total := producers * perProducer

	var prod sync.WaitGroup
	for p := 0; p < producers; p++ {
		prod.Add(1)
		go func() {
			defer prod.Done()
			for i := 0; i < perProducer; i++ {
				_ = f.Push("https://a.test/item")
			}
		}()
	}

	var mu sync.Mutex
	popped := 0
	var cons sync.WaitGroup
	for c := 0; c < 4; c++ {
		cons.Add(1)
		go func() {
			defer cons.Done()
			for {
				if _, err := f.Pop(context.Background()); err != nil {
					return
				}
				mu.Lock()
				popped++
				mu.Unlock()
			}
		}()
	}

	prod.Wait()
	require.Eventually(t, func() bool { return f.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	f.Close()
	cons.Wait()
	require.Equal(t, total, popped)
}
