package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	genai "google.golang.org/genai"

	"promptarena/internal/variables"
)

// GenAIWorker executes runs against the Gemini API through the official
// genai client. Enabled when GEMINI_API_KEY is configured; otherwise the
// playground falls back to the fake worker.
type GenAIWorker struct {
	cli   *genai.Client
	model string
	sink  Sink

	mu       sync.Mutex
	inflight map[string]inflightRun
}

func NewGenAIWorker(ctx context.Context, model string, sink Sink) (*GenAIWorker, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GenAIWorker{cli: cli, model: model, sink: sink, inflight: make(map[string]inflightRun)}, nil
}

func (w *GenAIWorker) Run(ctx context.Context, req Request) error {
	if w == nil || w.sink == nil {
		return fmt.Errorf("genai worker has no sink")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.inflight[req.RunID] = inflightRun{rowID: req.RowID, revisionID: req.RevisionID, cancel: cancel}
	w.mu.Unlock()

	go func() {
		defer cancel()
		res := w.execute(runCtx, req)
		w.mu.Lock()
		delete(w.inflight, req.RunID)
		w.mu.Unlock()
		w.sink.Deliver(res)
	}()
	return nil
}

func (w *GenAIWorker) execute(ctx context.Context, req Request) Result {
	contents := buildContents(req)
	res := Result{
		RowID:      req.RowID,
		RunID:      req.RunID,
		MessageID:  req.MessageID,
		VariantID:  req.VariantID,
		RevisionID: req.RevisionID,
	}
	resp, err := w.cli.Models.GenerateContent(ctx, w.model, contents, nil)
	if err != nil {
		log.Printf("run %s genai call failed: %v", req.RunID, err)
		res.Result = ErrorPayload(err.Error(), map[string]any{"provider": "genai", "model": w.model})
		return res
	}
	res.Result = SuccessPayload(resp.Text())
	return res
}

// buildContents renders the revision's templates with the row's variable
// values, then appends the chat history for chat runs.
func buildContents(req Request) []*genai.Content {
	var contents []*genai.Content
	for _, prompt := range req.Prompts {
		for _, msg := range prompt.Messages {
			text := variables.Render(msg.Content.PlainText(), req.VariableValues)
			if strings.TrimSpace(text) == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  genaiRole(msg.Role),
				Parts: []*genai.Part{{Text: text}},
			})
		}
	}
	for _, msg := range req.ChatHistory {
		parts := make([]*genai.Part, 0, 2)
		if text := msg.Content.PlainText(); strings.TrimSpace(text) != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		for _, img := range msg.Content.Images() {
			if img.ImageURL != nil {
				parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: img.ImageURL.URL}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: genaiRole(msg.Role), Parts: parts})
	}
	if len(contents) == 0 {
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: " "}}})
	}
	return contents
}

func genaiRole(role string) string {
	if strings.EqualFold(role, "assistant") {
		return "model"
	}
	return "user"
}

func (w *GenAIWorker) Cancel(rowID, revisionID string) {
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
