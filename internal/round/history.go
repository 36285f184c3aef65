// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"encoding/json"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/store"
)

// stuckNudge is appended to the system prompt when the model repeats itself.
const stuckNudge = "You appear to be repeating yourself. Change strategy: try a different approach or different tools instead of restating the previous answer."

// prepare builds the provider-facing conversation history and the effective
// system prompt for the next round.
func (e *Engine) prepare(ctx context.Context, session *store.Session) ([]provider.Message, string, error) {
	msgs, err := e.messages.ListMessages(ctx, session.ID, store.ListOpts{})
	if err != nil {
		return nil, "", err
	}

	history := buildHistory(msgs)

	systemPrompt := e.cfg.SystemPrompt
	if isStuck(msgs) {
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += stuckNudge
	}
	return history, systemPrompt, nil
}

// buildHistory converts stored messages into the provider wire shape. Only
// complete messages are eligible, and an assistant message that requested
// tools is included only when every call has its result — a half-answered
// message would make the provider reject the conversation.
func buildHistory(msgs []*store.Message) []provider.Message {
	var history []provider.Message

	for _, msg := range msgs {
		if !msg.IsComplete {
			continue
		}

		switch msg.Role {
		case store.MessageRoleUser:
			history = append(history, provider.Message{
				Role:    provider.MessageRoleUser,
				Content: msg.Content,
			})
		case store.MessageRoleSystem:
			history = append(history, provider.Message{
				Role:    provider.MessageRoleSystem,
				Content: msg.Content,
			})
		case store.MessageRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				history = append(history, provider.Message{
					Role:    provider.MessageRoleAssistant,
					Content: msg.Content,
				})
				continue
			}
			if !msg.Paired() {
				continue
			}

			asst := provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, provider.ToolCallSummary{
					ID:        tc.ID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
				})
			}
			history = append(history, asst)

			// Replay results in call order so they pair up deterministically.
			for _, tc := range msg.ToolCalls {
				result, _ := msg.ResultFor(tc.ID)
				history = append(history, provider.Message{
					Role:       provider.MessageRoleTool,
					Content:    toolResultContent(result),
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
				})
			}
		}
	}
	return history
}

// toolResultContent renders a tool result as the JSON the model reads.
func toolResultContent(result store.ToolResult) string {
	payload := map[string]any{"success": result.Success}
	if len(result.Data) > 0 {
		payload["data"] = json.RawMessage(result.Data)
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if result.Message != "" {
		payload["message"] = result.Message
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"error":"unrenderable tool result"}`
	}
	return string(data)
}

// isStuck reports whether the last two complete assistant replies are
// identical. A model that repeats itself verbatim is looping, not thinking.
func isStuck(msgs []*store.Message) bool {
	var lastTwo []string
	for i := len(msgs) - 1; i >= 0 && len(lastTwo) < 2; i-- {
		msg := msgs[i]
		if msg.Role != store.MessageRoleAssistant || !msg.IsComplete || msg.Content == "" {
			continue
		}
		lastTwo = append(lastTwo, msg.Content)
	}
	return len(lastTwo) == 2 && lastTwo[0] == lastTwo[1]
}
