package plot

import (
	"context"
	"testing"
	"time"
)

func TestWorkerServesOneRequestPerThreadID(t *testing.T) {
	t.Parallel()

	w := NewWorker(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Shutdown(context.Background())

	req := HistogramRequest{
		MaximumLatency: -1,
		MinimumLatency: -1,
		Width:          120,
		Height:         100,
		Format:         FormatPNG,
		ValuesSeconds:  []float64{0.1, 0.2, 0.3, 0.4, 0.1, 0.2},
	}

	mb := w.RequestHistogramPlot("caller-a", req)

	select {
	case <-waitForStatus(mb):
	case <-time.After(2 * time.Second):
		t.Fatal("render never completed")
	}

	if mb.Status() != StatusReady {
		t.Fatalf("Status() = %v, want StatusReady", mb.Status())
	}
	img := mb.WaitForImage()
	if len(img) == 0 {
		t.Fatal("WaitForImage() returned an empty image")
	}
}

func waitForStatus(mb *Mailbox) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for mb.Status() == StatusEmpty {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	return done
}
