package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubmitDeduplicatesByKey(t *testing.T) {
	rt := NewRuntime(2)

	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	if !rt.Submit(Job{Key: "k", Run: func(context.Context) error {
		close(started)
		<-release
		runs.Add(1)
		return nil
	}}) {
		t.Fatal("first Submit returned false")
	}
	<-started

	if rt.Submit(Job{Key: "k", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}) {
		t.Error("Submit accepted a duplicate key while the first job was running")
	}

	close(release)
	rt.Wait()
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestSubmitAllowsResubmitAfterCompletion(t *testing.T) {
	rt := NewRuntime(1)

	var runs atomic.Int32
	rt.Submit(Job{Key: "k", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	rt.Wait()
	rt.Submit(Job{Key: "k", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	rt.Wait()

	if got := runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	rt := NewRuntime(1)

	var mu sync.Mutex
	active, maxActive := 0, 0

	for _, key := range []string{"a", "b", "c"} {
		rt.Submit(Job{Key: key, Run: func(context.Context) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		}})
	}
	rt.Wait()

	if maxActive > 1 {
		t.Errorf("maxActive = %d, want at most 1", maxActive)
	}
}
