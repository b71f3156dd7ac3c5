package llm

import (
	"context"
	"fmt"

	"github.com/voocel/litellm"
	"github.com/voocel/litellm/providers"
)

// Summarizer makes the auxiliary summary call of spec.md §4.7 step 4: a
// single non-streaming call at temperature 0, no tools, no tool_choice.
// The deterministic compaction summary is built by
// agent.BuildSummaryMessage, not here. Grounded on the teacher's LiteLLMAdapter, but
// narrowed to the one synchronous call compaction needs instead of the
// teacher's full streaming ChatModel surface.
type Summarizer struct {
	client *litellm.Client
	model  string
}

// NewSummarizer builds a Summarizer against an OpenAI-compatible
// provider. baseURL may be empty to use the provider's default.
func NewSummarizer(model, apiKey, baseURL string) (*Summarizer, error) {
	cfg := providers.ProviderConfig{APIKey: apiKey}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client, err := litellm.New(providers.NewOpenAI(cfg))
	if err != nil {
		return nil, fmt.Errorf("llm: summarizer init: %w", err)
	}
	return &Summarizer{client: client, model: model}, nil
}

// Summarize collapses messages into a single summary string. The turn
// engine adds it as a system message to the current turn's history when
// the context is above the HIGH watermark; it replaces no context
// messages.
func (s *Summarizer) Summarize(ctx context.Context, messages []Message, instruction string) (string, error) {
	ltMessages := make([]litellm.Message, 0, len(messages)+1)
	ltMessages = append(ltMessages, litellm.Message{Role: "system", Content: instruction})
	for _, m := range messages {
		ltMessages = append(ltMessages, litellm.Message{Role: string(m.Role), Content: m.Content})
	}

	temperature := 0.0
	req := &litellm.Request{
		Model:       s.model,
		Messages:    ltMessages,
		Temperature: &temperature,
	}

	resp, err := s.client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: summarize failed: %w", err)
	}
	return resp.Content, nil
}
