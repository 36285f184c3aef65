// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package billing

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/store"
)

// fallbackEncoding is used when a model has no registered tokenizer. Counts
// drift a little for non-OpenAI models but this is an estimate, not a bill.
const fallbackEncoding = "cl100k_base"

// perMessageOverhead approximates the wrapper tokens the chat format adds
// around each message.
const perMessageOverhead = 4

// EstimateInputTokens counts the tokens a prompt will consume, for the
// pre-call affordability check and for reconciliation when a provider omits
// usage in its stream.
func EstimateInputTokens(model, systemPrompt string, msgs []provider.Message) store.Usage {
	enc := encodingFor(model)
	if enc == nil {
		return store.Usage{}
	}

	total := 0
	if systemPrompt != "" {
		total += len(enc.Encode(systemPrompt, nil, nil)) + perMessageOverhead
	}
	for _, msg := range msgs {
		total += len(enc.Encode(msg.Content, nil, nil)) + perMessageOverhead
		for _, tc := range msg.ToolCalls {
			total += len(enc.Encode(tc.Name, nil, nil))
			total += len(enc.Encode(tc.Arguments, nil, nil))
		}
	}
	return store.Usage{InputTokens: total}
}

// EstimateOutputTokens counts tokens in generated text, used when the stream
// ended without a usage event.
func EstimateOutputTokens(model, content string) store.Usage {
	enc := encodingFor(model)
	if enc == nil {
		return store.Usage{}
	}
	return store.Usage{OutputTokens: len(enc.Encode(content, nil, nil))}
}

func encodingFor(model string) *tiktoken.Tiktoken {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc
	}

	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		slog.Error("no tokenizer available, skipping estimation", "model", model, "error", err)
		return nil
	}
	return enc
}
