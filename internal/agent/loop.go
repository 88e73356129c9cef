// Package agent runs the bounded conversation loop between the model
// and the tool registry.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/colmb/taskchat/internal/llm"
	"github.com/colmb/taskchat/internal/tools"
)

// FallbackReply is returned when the round budget runs out before the
// model produces a final answer.
const FallbackReply = "I encountered an issue processing your request. Please try again."

// Turn is one prior exchange entry fed back to the model as context.
// Only user and assistant turns belong here; tool traffic is internal
// to a single Run.
type Turn struct {
	Role    string
	Content string
}

// ToolInvocation records one executed tool call for auditing.
type ToolInvocation struct {
	Name   string
	Args   string
	Result string
}

// Result is the outcome of one completed agent run.
type Result struct {
	Reply     string
	ToolCalls []ToolInvocation
}

// Loop drives the model/tool exchange for a single user message.
type Loop struct {
	llm       llm.Client
	registry  *tools.Registry
	logger    *slog.Logger
	maxRounds int
}

// New creates a loop. maxRounds caps the number of model calls per user
// message; values below 1 are coerced to 1.
func New(client llm.Client, registry *tools.Registry, maxRounds int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Loop{
		llm:       client,
		registry:  registry,
		logger:    logger,
		maxRounds: maxRounds,
	}
}

// Run processes one user message. history is the prior conversation in
// chronological order; the caller applies its window before calling.
//
// Each round sends the accumulated transcript to the model. When the
// model requests tool calls, every call is executed against the
// registry and its result appended as a tool message, then the next
// round begins. A round with no tool calls ends the run with the
// model's text. If the budget is exhausted while the model is still
// calling tools, the run ends with FallbackReply; executed tool calls
// are reported either way.
//
// A model error aborts the run and surfaces to the caller. Tool
// execution never fails the run: the registry folds failures into its
// JSON results.
func (l *Loop) Run(ctx context.Context, userID, message string, history []Turn) (*Result, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	schemas := l.registry.Schemas()
	var audit []ToolInvocation

	for round := range l.maxRounds {
		resp, err := l.llm.Chat(ctx, messages, schemas)
		if err != nil {
			l.logger.Error("model call failed",
				"round", round+1,
				"user", userID,
				"error", err,
			)
			return nil, fmt.Errorf("chat round %d: %w", round+1, err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			l.logger.Info("agent run complete",
				"rounds", round+1,
				"tool_calls", len(audit),
				"user", userID,
			)
			return &Result{Reply: resp.Message.Content, ToolCalls: audit}, nil
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			result := l.registry.Execute(ctx, userID, tc.Function.Name, tc.Function.Arguments)
			audit = append(audit, ToolInvocation{
				Name:   tc.Function.Name,
				Args:   tc.Function.Arguments,
				Result: result,
			})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	l.logger.Warn("agent run exhausted round budget",
		"rounds", l.maxRounds,
		"tool_calls", len(audit),
		"user", userID,
	)
	return &Result{Reply: FallbackReply, ToolCalls: audit}, nil
}
