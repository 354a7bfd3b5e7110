package dispatch

import (
	"context"
	"sync"
	"time"
)

// Factory lazily creates one Dispatcher per destination URL and removes it
// once that dispatcher reports itself idle (spec §4.G / §5: dispatchers are
// garbage collected after sitting idle, not kept forever).
type Factory struct {
	ctx     context.Context
	maxIdle time.Duration

	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
}

func NewFactory(ctx context.Context) *Factory {
	return &Factory{ctx: ctx, maxIdle: defaultMaxIdle, dispatchers: make(map[string]*Dispatcher)}
}

// SetMaxIdle overrides the idle-GC threshold every dispatcher this Factory
// creates from now on will use (spec §4.G maxIdle = 3600s default).
func (f *Factory) SetMaxIdle(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.maxIdle = d
	f.mu.Unlock()
}

// Enqueue routes req to the Dispatcher for req.URL, creating one if none
// exists yet. If the dispatcher found in the map already committed to
// idle-collecting itself (a race with its own goroutine exiting), a fresh
// one is created and retried rather than losing req.
func (f *Factory) Enqueue(req Request) {
	for !f.dispatcherFor(req.URL).Enqueue(req) {
	}
}

func (f *Factory) dispatcherFor(destination string) *Dispatcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d, ok := f.dispatchers[destination]; ok {
		return d
	}

	d := newDispatcher(destination, f.collect)
	d.maxIdle = f.maxIdle
	f.dispatchers[destination] = d
	d.Start(f.ctx)
	return d
}

// collect is the "collect me" signal a Dispatcher invokes on itself from its
// own goroutine once idle for maxIdle; the Factory drops its reference so
// the next Enqueue for that destination builds a fresh one.
func (f *Factory) collect(destination string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dispatchers, destination)
}

// Shutdown stops every live dispatcher.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	dispatchers := make([]*Dispatcher, 0, len(f.dispatchers))
	for _, d := range f.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	f.dispatchers = make(map[string]*Dispatcher)
	f.mu.Unlock()

	for _, d := range dispatchers {
		d.Stop()
	}
}

// Count reports the number of live (non-collected) dispatchers; used by
// tests and operator diagnostics.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatchers)
}
