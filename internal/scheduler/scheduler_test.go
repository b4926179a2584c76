package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSupersededCoalescedRequestRejectsFirst(t *testing.T) {
	s := New(nil)
	defer s.Close()

	completed := 0

	first := s.Schedule(context.Background(), Interactive, "completion:a.pike", 50, func(ctx context.Context, cp Checkpoint) (any, error) {
		completed++

		return "first", nil
	})

	second := s.Schedule(context.Background(), Interactive, "completion:a.pike", 50, func(ctx context.Context, cp Checkpoint) (any, error) {
		completed++

		return "second", nil
	})

	select {
	case <-first.Done():
		_, err := first.Result()
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first future never resolved")
	}

	select {
	case <-second.Done():
		res, err := second.Result()
		require.NoError(t, err)
		require.Equal(t, "second", res)
	case <-time.After(2 * time.Second):
		t.Fatal("second future never resolved")
	}

	require.Equal(t, 1, completed, "exactly one completion should run, per S5")
}

func TestTypingDoesNotPreemptStartedBackground(t *testing.T) {
	s := New(nil)
	defer s.Close()

	order := make(chan string, 2)

	bgStarted := make(chan struct{})

	s.Schedule(context.Background(), Background, "", 0, func(ctx context.Context, cp Checkpoint) (any, error) {
		close(bgStarted)
		order <- "background"

		return nil, nil
	})

	<-bgStarted

	s.Schedule(context.Background(), Typing, "", 0, func(ctx context.Context, cp Checkpoint) (any, error) {
		order <- "typing"

		return nil, nil
	})

	first := <-order
	second := <-order

	require.Equal(t, "background", first)
	require.Equal(t, "typing", second)
}

func TestCancelPendingByKeyRejectsQueuedTask(t *testing.T) {
	s := New(nil)
	defer s.Close()

	blocker := make(chan struct{})

	s.Schedule(context.Background(), Typing, "", 0, func(ctx context.Context, cp Checkpoint) (any, error) {
		<-blocker

		return nil, nil
	})

	fut := s.Schedule(context.Background(), Typing, "my-key", 0, func(ctx context.Context, cp Checkpoint) (any, error) {
		return "ran", nil
	})

	s.CancelPendingByKey("my-key")
	close(blocker)

	select {
	case <-fut.Done():
		_, err := fut.Result()
		require.True(t, errors.Is(err, ErrSuperseded))
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}
}
