// Package dispatch implements the per-destination outbound HTTP sender
// described in spec §4.G: one FIFO queue per destination, at most one
// in-flight request, infinite retry on transport failure, and idle
// garbage collection. It is used by the (external) event/notification code
// to push ingest and aggregation results to customer-facing endpoints as
// fire-and-forget.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	defaultRetryInterval = 60 * time.Second
	successGrace         = 10 * time.Millisecond
	defaultMaxIdle       = 3600 * time.Second
)

// Request is one pending outbound POST. OnSuccess, if set, runs after the
// post-success grace period and before the next queued request is sent.
type Request struct {
	URL         string
	ContentType string
	Body        []byte
	OnSuccess   func()
}

// Dispatcher owns the FIFO queue for one destination. Destinations impose
// order: the dispatcher never has more than one request in flight.
type Dispatcher struct {
	destination   string
	client        *http.Client
	maxIdle       time.Duration
	retryInterval time.Duration

	mu        sync.Mutex
	queue     []Request
	collected bool // true once run() has committed to idle-collecting this dispatcher

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	onIdle func(destination string)
}

// newDispatcher constructs a Dispatcher for one destination. onIdle, if
// non-nil, is invoked from the dispatcher's own goroutine once its queue has
// been empty for maxIdle — the "collect me" signal a Factory listens for.
func newDispatcher(destination string, onIdle func(string)) *Dispatcher {
	return &Dispatcher{
		destination:   destination,
		client:        &http.Client{Timeout: 30 * time.Second},
		maxIdle:       defaultMaxIdle,
		retryInterval: defaultRetryInterval,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		onIdle:        onIdle,
	}
}

// retryIntervalOverride shortens the retry backoff; exercised by tests only.
func (d *Dispatcher) retryIntervalOverride(interval time.Duration) {
	d.retryInterval = interval
}

// Start launches the dispatcher's single worker goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop clears the queue and cancels the dispatcher without waiting for an
// in-flight retry timer (spec §5 cancellation: "stopped by clearing its
// queue and cancelling the timer").
func (d *Dispatcher) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}

// Enqueue appends one request to the tail of the FIFO queue. It reports
// false if this dispatcher has already committed to idle-collecting itself
// (run() is on its way out); the caller must fetch a fresh Dispatcher for
// the destination and retry, or the request would sit in a queue nobody is
// reading from anymore.
func (d *Dispatcher) Enqueue(req Request) bool {
	d.mu.Lock()
	if d.collected {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, req)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *Dispatcher) head() (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Request{}, false
	}
	return d.queue[0], true
}

func (d *Dispatcher) advance() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) > 0 {
		d.queue = d.queue[1:]
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		req, ok := d.head()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-d.wake:
				continue
			case <-time.After(d.maxIdle):
				d.mu.Lock()
				if len(d.queue) > 0 {
					// A request landed between head() observing an empty
					// queue and the idle timer firing; stay alive for it.
					d.mu.Unlock()
					continue
				}
				d.collected = true
				d.mu.Unlock()

				if d.onIdle != nil {
					d.onIdle(d.destination)
				}
				return
			}
		}

		if !d.sendWithRetry(ctx, req) {
			return
		}

		if req.OnSuccess != nil {
			select {
			case <-time.After(successGrace):
				req.OnSuccess()
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			}
		}

		d.advance()
	}
}

// sendWithRetry posts req, retrying the same request after retryInterval on
// every transport failure, indefinitely, until it succeeds or the
// dispatcher is stopped. Returns false if stopped before success.
func (d *Dispatcher) sendWithRetry(ctx context.Context, req Request) bool {
	for {
		err := d.post(ctx, req)
		if err == nil {
			return true
		}
		log.Printf("[dispatch:%s] post failed, retrying in %s: %v", d.destination, d.retryInterval, err)

		select {
		case <-ctx.Done():
			return false
		case <-d.stop:
			return false
		case <-time.After(d.retryInterval):
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, req Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", req.URL, resp.StatusCode)
	}
	return nil
}
