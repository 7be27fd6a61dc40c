package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptarena/internal/variables"
)

// FakeWorker returns deterministic results for offline use and tests.
// Respond can be swapped for scripted behavior; Latency injects a delivery
// delay so completion interleavings can be exercised.
type FakeWorker struct {
	sink    Sink
	Latency time.Duration
	Respond func(req Request) Result

	mu       sync.Mutex
	inflight map[string]inflightRun // runID -> row/revision plus cancel
}

type inflightRun struct {
	rowID      string
	revisionID string
	cancel     context.CancelFunc
}

func NewFakeWorker(sink Sink) *FakeWorker {
	return &FakeWorker{sink: sink, inflight: make(map[string]inflightRun)}
}

func (w *FakeWorker) Run(ctx context.Context, req Request) error {
	if w == nil || w.sink == nil {
		return fmt.Errorf("fake worker has no sink")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.inflight[req.RunID] = inflightRun{rowID: req.RowID, revisionID: req.RevisionID, cancel: cancel}
	w.mu.Unlock()

	go func() {
		defer cancel()
		if w.Latency > 0 {
			select {
			case <-runCtx.Done():
				w.forget(req.RunID)
				return
			case <-time.After(w.Latency):
			}
		} else if runCtx.Err() != nil {
			w.forget(req.RunID)
			return
		}
		res := w.buildResult(req)
		w.forget(req.RunID)
		w.sink.Deliver(res)
	}()
	return nil
}

func (w *FakeWorker) buildResult(req Request) Result {
	if w.Respond != nil {
		return w.Respond(req)
	}
	text := "ok"
	if len(req.Prompts) > 0 && len(req.Prompts[0].Messages) > 0 {
		text = variables.Render(req.Prompts[0].Messages[len(req.Prompts[0].Messages)-1].Content.PlainText(), req.VariableValues)
	} else if n := len(req.ChatHistory); n > 0 {
		text = "echo: " + req.ChatHistory[n-1].Content.PlainText()
	}
	return Result{
		RowID:      req.RowID,
		RunID:      req.RunID,
		MessageID:  req.MessageID,
		VariantID:  req.VariantID,
		RevisionID: req.RevisionID,
		Result:     SuccessPayload(text),
	}
}

func (w *FakeWorker) forget(runID string) {
	w.mu.Lock()
	delete(w.inflight, runID)
	w.mu.Unlock()
}

// Cancel aborts in-flight runs matching the row id and/or revision id.
func (w *FakeWorker) Cancel(rowID, revisionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for runID, run := range w.inflight {
		if rowID != "" && run.rowID != rowID {
			continue
		}
		if revisionID != "" && run.revisionID != revisionID {
			continue
		}
		run.cancel()
		delete(w.inflight, runID)
	}
}
