package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/tools"
)

// scriptedModel returns canned responses in order and records every
// request it receives.
type scriptedModel struct {
	responses []*anthropic.Message
	requests  []anthropic.MessageNewParams
	err       error
}

func (m *scriptedModel) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.requests = append(m.requests, params)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.requests) > len(m.responses) {
		return textResponse("done"), nil
	}
	return m.responses[len(m.requests)-1], nil
}

func textResponse(text string) *anthropic.Message {
	return &anthropic.Message{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
	}
}

func toolUseResponse(id, name, input string) *anthropic.Message {
	return &anthropic.Message{
		StopReason: "tool_use",
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)},
		},
	}
}

// staticTools provides a fixed tool set regardless of context.
type staticTools struct {
	toolset []tools.Tool
}

func (s *staticTools) Compose(string, session.Record) []tools.Tool {
	return s.toolset
}

// staticResolver returns a fixed record.
type staticResolver struct {
	rec session.Record
}

func (s *staticResolver) Resolve(context.Context, string, string) session.Record {
	return s.rec
}

func echoTool(calls *[]string) tools.Tool {
	return tools.Tool{
		Name:        "echo",
		Description: "Echoes its input.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		Run: func(_ context.Context, input json.RawMessage) (string, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return "", err
			}
			*calls = append(*calls, args.Text)
			return "echoed: " + args.Text, nil
		},
	}
}

func newExecutor(model ModelCaller, toolset []tools.Tool) *Executor {
	return NewExecutor(Config{
		Model:     model,
		ModelID:   "claude-test",
		Resolver:  &staticResolver{rec: session.Record{JiraIssueKey: "PROJ-1"}},
		Tools:     &staticTools{toolset: toolset},
		AgentName: "stagehand",
	})
}

func TestRunTurn_TextOnlyResponseEndsTurn(t *testing.T) {
	model := &scriptedModel{responses: []*anthropic.Message{textResponse("nothing to do")}}
	ex := newExecutor(model, nil)

	if err := ex.RunTurn(context.Background(), "jira-PROJ-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.requests) != 1 {
		t.Fatalf("model called %d times, want 1", len(model.requests))
	}

	req := model.requests[0]
	if len(req.System) == 0 || !strings.Contains(req.System[0].Text, "PROJ-1") {
		t.Error("system prompt missing conversation context")
	}
	if len(req.Messages) != 1 {
		t.Errorf("initial request has %d messages, want 1", len(req.Messages))
	}
}

func TestRunTurn_ExecutesToolAndFeedsResultBack(t *testing.T) {
	var calls []string
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseResponse("tu_1", "echo", `{"text":"hi"}`),
		textResponse("all done"),
	}}
	ex := newExecutor(model, []tools.Tool{echoTool(&calls)})

	if err := ex.RunTurn(context.Background(), "jira-PROJ-1", "run echo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "hi" {
		t.Fatalf("tool calls: %v", calls)
	}
	if len(model.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.requests))
	}

	// Second request must carry the assistant's tool call and our result.
	msgs := model.requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(msgs))
	}
	result := msgs[2].Content[0].OfToolResult
	if result == nil {
		t.Fatal("third message is not a tool result")
	}
	if result.ToolUseID != "tu_1" {
		t.Errorf("tool result id: got %q, want tu_1", result.ToolUseID)
	}
	if result.IsError.Or(false) {
		t.Error("successful tool marked as error")
	}
	if text := result.Content[0].OfText.Text; !strings.Contains(text, "echoed: hi") {
		t.Errorf("tool result content: %q", text)
	}
}

func TestRunTurn_ToolErrorBecomesErrorResult(t *testing.T) {
	failing := tools.Tool{
		Name:   "boom",
		Schema: map[string]any{"type": "object", "properties": map[string]any{}},
		Run: func(context.Context, json.RawMessage) (string, error) {
			return "", fmt.Errorf("upstream returned 404")
		},
	}
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseResponse("tu_1", "boom", `{}`),
		textResponse("I'll adjust"),
	}}
	ex := newExecutor(model, []tools.Tool{failing})

	if err := ex.RunTurn(context.Background(), "jira-PROJ-1", "go"); err != nil {
		t.Fatalf("tool failure must not abort the turn: %v", err)
	}

	result := model.requests[1].Messages[2].Content[0].OfToolResult
	if !result.IsError.Or(false) {
		t.Error("failed tool not marked as error")
	}
	if text := result.Content[0].OfText.Text; !strings.Contains(text, "404") {
		t.Errorf("error text lost: %q", text)
	}
}

func TestRunTurn_UnknownToolReportedToModel(t *testing.T) {
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseResponse("tu_1", "no_such_tool", `{}`),
		textResponse("understood"),
	}}
	ex := newExecutor(model, nil)

	if err := ex.RunTurn(context.Background(), "jira-PROJ-1", "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := model.requests[1].Messages[2].Content[0].OfToolResult
	if !result.IsError.Or(false) {
		t.Error("unknown tool not marked as error")
	}
}

func TestRunTurn_ModelErrorPropagates(t *testing.T) {
	model := &scriptedModel{err: errors.New("overloaded")}
	ex := newExecutor(model, nil)

	err := ex.RunTurn(context.Background(), "jira-PROJ-1", "go")
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestRunTurn_IterationBudget(t *testing.T) {
	var calls []string
	// The model never stops asking for the tool.
	responses := make([]*anthropic.Message, 50)
	for i := range responses {
		responses[i] = toolUseResponse(fmt.Sprintf("tu_%d", i), "echo", `{"text":"again"}`)
	}
	ex := NewExecutor(Config{
		Model:         &scriptedModel{responses: responses},
		ModelID:       "claude-test",
		Resolver:      &staticResolver{},
		Tools:         &staticTools{toolset: []tools.Tool{echoTool(&calls)}},
		AgentName:     "stagehand",
		MaxIterations: 3,
	})

	err := ex.RunTurn(context.Background(), "jira-PROJ-1", "go")
	if err == nil || !strings.Contains(err.Error(), "3") {
		t.Fatalf("expected iteration budget error, got %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("tool ran %d times, want 3", len(calls))
	}
}

func TestRunTurn_CancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	canceling := tools.Tool{
		Name:   "echo",
		Schema: map[string]any{"type": "object", "properties": map[string]any{}},
		Run: func(context.Context, json.RawMessage) (string, error) {
			calls = append(calls, "ran")
			cancel() // the dispatcher interrupts mid-tool
			return "ok", nil
		},
	}
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseResponse("tu_1", "echo", `{}`),
		textResponse("never reached"),
	}}
	ex := newExecutor(model, []tools.Tool{canceling})

	err := ex.RunTurn(ctx, "jira-PROJ-1", "go")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(model.requests) != 1 {
		t.Errorf("model called %d times after cancellation, want 1", len(model.requests))
	}
}
