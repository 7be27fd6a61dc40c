package worker

import (
	"context"
	"testing"
	"time"

	"promptarena/internal/entity"
)

type chanSink struct {
	ch chan Result
}

func (s *chanSink) Deliver(res Result) { s.ch <- res }

func TestFakeWorkerDeliversRenderedPrompt(t *testing.T) {
	sink := &chanSink{ch: make(chan Result, 1)}
	w := NewFakeWorker(sink)

	req := Request{
		RunID:      "run-1",
		RowID:      "row-1",
		RevisionID: "rev-a",
		Prompts: []entity.Prompt{{
			Messages: []entity.Message{{Role: "user", Content: entity.TextContent("about {{topic}}")}},
		}},
		VariableValues: map[string]string{"topic": "go"},
	}
	if err := w.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case res := <-sink.ch:
		if res.RunID != "run-1" || res.RowID != "row-1" {
			t.Fatalf("result identity: %+v", res)
		}
		if got := string(res.Result); got != string(SuccessPayload("about go")) {
			t.Fatalf("rendered payload: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no result delivered")
	}
}

func TestFakeWorkerCancelSuppressesDelivery(t *testing.T) {
	sink := &chanSink{ch: make(chan Result, 1)}
	w := NewFakeWorker(sink)
	w.Latency = 50 * time.Millisecond

	req := Request{RunID: "run-1", RowID: "row-1", RevisionID: "rev-a"}
	if err := w.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}
	w.Cancel("row-1", "rev-a")

	select {
	case res := <-sink.ch:
		t.Fatalf("cancelled run must not deliver: %+v", res)
	case <-time.After(120 * time.Millisecond):
	}
}
