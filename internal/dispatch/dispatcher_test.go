package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversInFIFOOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDispatcher(srv.URL, nil)
	d.Start(ctx)
	defer d.Stop()

	var done sync.WaitGroup
	done.Add(3)
	d.Enqueue(Request{URL: srv.URL, Body: []byte("A"), OnSuccess: done.Done})
	d.Enqueue(Request{URL: srv.URL, Body: []byte("B"), OnSuccess: done.Done})
	d.Enqueue(Request{URL: srv.URL, Body: []byte("C"), OnSuccess: done.Done})

	waitTimeout(t, &done, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 || received[0] != "A" || received[1] != "B" || received[2] != "C" {
		t.Fatalf("received = %v, want [A B C] in order", received)
	}
}

func TestDispatcherRetriesOnFailureUntilSuccess(t *testing.T) {
	t.Parallel()

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDispatcher(srv.URL, nil)
	d.retryIntervalOverride(10 * time.Millisecond)
	d.Start(ctx)
	defer d.Stop()

	var done sync.WaitGroup
	done.Add(1)
	d.Enqueue(Request{URL: srv.URL, Body: []byte("x"), OnSuccess: done.Done})

	waitTimeout(t, &done, time.Second)

	if got := atomic.LoadInt32(&attempts); got < 2 {
		t.Fatalf("attempts = %d, want at least 2 (one failure + one success)", got)
	}
}

func TestFactoryCreatesOneDispatcherPerDestination(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFactory(ctx)
	defer f.Shutdown()

	var done sync.WaitGroup
	done.Add(2)
	f.Enqueue(Request{URL: srv.URL, Body: []byte("1"), OnSuccess: done.Done})
	f.Enqueue(Request{URL: srv.URL, Body: []byte("2"), OnSuccess: done.Done})

	waitTimeout(t, &done, time.Second)

	if f.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 dispatcher for one destination", f.Count())
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for deliveries")
	}
}
