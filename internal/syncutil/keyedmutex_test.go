package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "alice@okhdfc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	unlock()

	// Relocking after unlock must not block.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlock, err = m.Lock(ctx, "alice@okhdfc")
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	unlock()
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "counter")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("expected %d, got %d", n, counter)
	}
}

func TestKeyedMutex_ContextDeadline(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "busy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "busy"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_UnlockHandsOver(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(context.Background(), "relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second waiter acquired the lock before release")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second waiter never acquired the lock")
	}
}
