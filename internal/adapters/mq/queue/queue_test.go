package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/jasselo/internal/domain/model"
)

func session(id string) model.Session {
	return model.Session{
		ID:          id,
		GroupID:     "g",
		CompletedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Games: []model.Game{{
			Number:   1,
			TeamA:    model.Team{Players: [2]string{"a", "b"}},
			TeamB:    model.Team{Players: [2]string{"c", "d"}},
			StricheA: model.Striche(9),
			StricheB: model.Striche(8),
		}},
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, session("s1")); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "s1" {
		t.Errorf("expected s1, got %v", got.ID)
	}
	if *got.Games[0].StricheA != 9 {
		t.Errorf("expected striche 9, got %d", *got.Games[0].StricheA)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if err := q.Enqueue(ctx, session(id)); err != nil {
			t.Fatalf("expected enqueue of %s to succeed, got %v", id, err)
		}
	}

	if err := q.Enqueue(ctx, session("s3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CopiesSession(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	s := session("s1")
	if err := q.Enqueue(ctx, s); err != nil {
		t.Fatal(err)
	}
	*s.Games[0].StricheA = 0

	got := <-q.Dequeue(ctx)
	if *got.Games[0].StricheA != 9 {
		t.Errorf("queued session changed with the caller's copy: %d", *got.Games[0].StricheA)
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	const n = 100
	q := NewInMemoryQueue(WithCapacity(n))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < n; i++ {
		if err := q.Enqueue(ctx, session(fmt.Sprintf("s%03d", i))); err != nil {
			t.Fatal(err)
		}
	}
	_ = q.Close()

	i := 0
	for s := range q.Dequeue(ctx) {
		if want := fmt.Sprintf("s%03d", i); s.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, s.ID)
		}
		i++
	}
	if i != n {
		t.Errorf("expected %d sessions, got %d", n, i)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if err := q.Enqueue(ctx, session("s1")); err != nil {
		t.Fatal(err)
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, session("s2")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	ch := q.Dequeue(ctx)
	if s, ok := <-ch; !ok || s.ID != "s1" {
		t.Errorf("expected pending s1 to drain, got %v %v", s.ID, ok)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected dequeue channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("expected dequeue channel to be closed within timeout")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
