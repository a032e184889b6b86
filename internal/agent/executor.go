// Package agent runs conversation turns: it resolves the conversation's
// context, composes the tool set, and drives the model's tool-calling loop
// until the model stops requesting tools or the iteration budget runs out.
// The final answer reaches the requester through a tool call (jira_reply or
// gh_comment), not through the loop's return value.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/tools"
)

// ModelCaller sends one request to the model. Implemented by the SDK's
// message service; tests script it.
type ModelCaller interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ToolProvider composes the per-turn tool set. Implemented by
// *tools.Composer.
type ToolProvider interface {
	Compose(conversationKey string, rec session.Record) []tools.Tool
}

// ContextResolver reconstructs conversation context. Implemented by
// *session.Resolver.
type ContextResolver interface {
	Resolve(ctx context.Context, conversationKey, latestUserMessage string) session.Record
}

const (
	defaultMaxIterations = 30
	defaultMaxTokens     = 8192
)

// Executor runs one turn at a time. Safe for concurrent use across
// conversations; the dispatcher guarantees one turn per conversation.
type Executor struct {
	model    ModelCaller
	modelID  anthropic.Model
	resolver ContextResolver
	provider ToolProvider

	agentName     string
	branchPrefix  string
	maxIterations int
	maxTokens     int64
	logger        *slog.Logger
}

// Config holds Executor construction parameters. Zero limits get defaults.
type Config struct {
	Model         ModelCaller
	ModelID       string
	Resolver      ContextResolver
	Tools         ToolProvider
	AgentName     string
	BranchPrefix  string
	MaxIterations int
	MaxTokens     int64
	Logger        *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		model:         cfg.Model,
		modelID:       anthropic.Model(cfg.ModelID),
		resolver:      cfg.Resolver,
		provider:      cfg.Tools,
		agentName:     cfg.AgentName,
		branchPrefix:  cfg.BranchPrefix,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		logger:        cfg.Logger,
	}
}

// RunTurn executes one turn. A context cancellation (the dispatcher
// interrupting this turn) propagates out as the context's error.
func (e *Executor) RunTurn(ctx context.Context, conversationKey, message string) error {
	rec := e.resolver.Resolve(ctx, conversationKey, message)
	toolset := e.provider.Compose(conversationKey, rec)

	byName := make(map[string]tools.Tool, len(toolset))
	toolParams := make([]anthropic.ToolUnionParam, 0, len(toolset))
	for _, t := range toolset {
		byName[t.Name] = t
		toolParams = append(toolParams, toolParam(t))
	}

	params := anthropic.MessageNewParams{
		Model:     e.modelID,
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: tools.SystemPrompt(e.agentName, rec, e.branchPrefix),
			Type: "text",
		}},
		Tools: toolParams,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	}

	for i := 0; i < e.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := e.model.New(ctx, params)
		if err != nil {
			return fmt.Errorf("model call: %w", err)
		}

		assistant, toolUses := splitResponse(resp)
		params.Messages = append(params.Messages, assistant)

		if len(toolUses) == 0 {
			e.logger.Info("turn finished",
				"conversation_key", conversationKey,
				"iterations", i+1,
				"stop_reason", string(resp.StopReason))
			return nil
		}

		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			results = append(results, e.invoke(ctx, conversationKey, byName, use))
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	return fmt.Errorf("turn exceeded %d tool iterations", e.maxIterations)
}

// toolUse is one tool call extracted from a model response.
type toolUse struct {
	id    string
	name  string
	input []byte
}

// splitResponse rebuilds the assistant message for the transcript and
// extracts the tool calls from it.
func splitResponse(resp *anthropic.Message) (anthropic.MessageParam, []toolUse) {
	var blocks []anthropic.ContentBlockParamUnion
	var uses []toolUse

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case "tool_use":
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				},
			})
			uses = append(uses, toolUse{id: block.ID, name: block.Name, input: block.Input})
		}
	}

	return anthropic.MessageParam{
		Role:    anthropic.MessageParamRoleAssistant,
		Content: blocks,
	}, uses
}

// invoke runs one tool call. Failures become error results visible to the
// model, which can correct its arguments and retry; only context
// cancellation aborts the turn (handled by the caller).
func (e *Executor) invoke(ctx context.Context, conversationKey string, byName map[string]tools.Tool, use toolUse) anthropic.ContentBlockParamUnion {
	t, ok := byName[use.name]
	if !ok {
		return toolResult(use.id, fmt.Sprintf("unknown tool %q", use.name), true)
	}

	out, err := t.Run(ctx, use.input)
	if err != nil {
		e.logger.Warn("tool failed",
			"conversation_key", conversationKey,
			"tool", use.name,
			"error", err)
		return toolResult(use.id, err.Error(), true)
	}

	e.logger.Debug("tool succeeded", "conversation_key", conversationKey, "tool", use.name)
	return toolResult(use.id, out, false)
}

func toolResult(toolUseID, content string, isError bool) anthropic.ContentBlockParamUnion {
	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: toolUseID,
			IsError:   anthropic.Bool(isError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: content}},
			},
		},
	}
}

// toolParam converts a tool descriptor to the wire schema.
func toolParam(t tools.Tool) anthropic.ToolUnionParam {
	var required []string
	if req, ok := t.Schema["required"].([]string); ok {
		required = req
	}
	properties := t.Schema["properties"]

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		},
	}
}
