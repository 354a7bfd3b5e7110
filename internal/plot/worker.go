package plot

import (
	"context"
	"log"
)

type jobKind int

const (
	jobHistory jobKind = iota
	jobHistogram
)

type job struct {
	kind      jobKind
	mailbox   *Mailbox
	history   HistoryRequest
	histogram HistogramRequest
}

// Worker is the PlotWorker: a single render goroutine serving every caller's
// requests off one FIFO queue, so exactly one chart is ever being rasterized
// at a time (spec §4.H / original_source's single render thread).
type Worker struct {
	mailboxes *mailboxSet
	jobs      chan job
	stop      chan struct{}
	done      chan struct{}
}

func NewWorker(queueDepth int) *Worker {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Worker{
		mailboxes: newMailboxSet(),
		jobs:      make(chan job, queueDepth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) Shutdown(ctx context.Context) {
	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case j := <-w.jobs:
			w.process(j)
		}
	}
}

func (w *Worker) process(j job) {
	var (
		img []byte
		err error
	)
	switch j.kind {
	case jobHistory:
		img, err = renderHistory(j.history)
	case jobHistogram:
		img, err = renderHistogram(j.histogram)
	}
	if err != nil {
		log.Printf("[plot] render failed: %v", err)
		j.mailbox.sendFailed()
		return
	}
	j.mailbox.sendImage(img)
}

// RequestHistoryPlot enqueues a history chart render and returns the
// caller's Mailbox (threadID-scoped, created on first use). Call
// WaitForImage on the returned Mailbox to block for the result.
func (w *Worker) RequestHistoryPlot(threadID string, req HistoryRequest) *Mailbox {
	mb := w.mailboxes.get(threadID)
	w.jobs <- job{kind: jobHistory, mailbox: mb, history: req}
	return mb
}

// RequestHistogramPlot enqueues a histogram render; see RequestHistoryPlot.
func (w *Worker) RequestHistogramPlot(threadID string, req HistogramRequest) *Mailbox {
	mb := w.mailboxes.get(threadID)
	w.jobs <- job{kind: jobHistogram, mailbox: mb, histogram: req}
	return mb
}

// Release drops the Mailbox allocated for threadID. Callers must call this
// exactly once, after their WaitForImage returns, and only for a threadID
// they know is theirs alone for the lifetime of the request (see
// mailboxSet.release) — otherwise the map would grow by one entry per plot
// request forever.
func (w *Worker) Release(threadID string) {
	w.mailboxes.release(threadID)
}
