package llm

import (
	"encoding/json"
	"strings"
)

// wireChunk covers both OpenAI-style (`choices[0].delta`) and
// provider-native (`message`) streaming shapes in one struct, plus the
// top-level `done` flag either format may carry.
type wireChunk struct {
	Done    bool `json:"done"`
	Choices []struct {
		Delta struct {
			Content   string              `json:"content"`
			Reasoning string              `json:"reasoning"`
			ToolCalls []wireToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Message struct {
		Content   string           `json:"content"`
		Reasoning string           `json:"reasoning"`
		ToolCalls []wireToolCallDelta `json:"tool_calls"`
	} `json:"message"`
}

type wireToolCallDelta struct {
	Index    int    `json:"index"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// parseChunk decodes one JSON object from the stream into zero or more
// ChunkDeltas, preferring the OpenAI `choices[].delta` shape when present
// and falling back to the provider-native `message` shape otherwise.
func parseChunk(data []byte) ([]ChunkDelta, bool, error) {
	var c wireChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, err
	}

	var deltas []ChunkDelta
	if len(c.Choices) > 0 {
		d := c.Choices[0].Delta
		if d.Content != "" {
			deltas = append(deltas, ChunkDelta{Kind: DeltaContent, Text: d.Content})
		}
		if d.Reasoning != "" {
			deltas = append(deltas, ChunkDelta{Kind: DeltaReasoning, Text: d.Reasoning})
		}
		for _, tc := range d.ToolCalls {
			deltas = append(deltas, ChunkDelta{
				Kind: DeltaToolCallFragment, Index: tc.Index,
				Name: tc.Function.Name, Args: tc.Function.Arguments,
			})
		}
	} else {
		if c.Message.Content != "" {
			deltas = append(deltas, ChunkDelta{Kind: DeltaContent, Text: c.Message.Content})
		}
		if c.Message.Reasoning != "" {
			deltas = append(deltas, ChunkDelta{Kind: DeltaReasoning, Text: c.Message.Reasoning})
		}
		for _, tc := range c.Message.ToolCalls {
			deltas = append(deltas, ChunkDelta{
				Kind: DeltaToolCallFragment, Index: tc.Index,
				Name: tc.Function.Name, Args: tc.Function.Arguments,
			})
		}
	}

	if c.Done {
		deltas = append(deltas, ChunkDelta{Kind: DeltaDone})
	}
	return deltas, c.Done, nil
}

// parseSSELine extracts the JSON payload from one `data: {...}` SSE line.
// Lines that aren't `data:` prefixed, or carry the `[DONE]` terminator,
// are reported via ok=false/done respectively. Bare-JSON lines (the
// provider-native non-SSE fallback) are passed through unchanged.
func parseSSELine(line string) (payload string, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, false
	}
	if strings.HasPrefix(line, "data:") {
		rest := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if rest == "[DONE]" {
			return "", true, false
		}
		return rest, false, rest != ""
	}
	if strings.HasPrefix(line, "{") {
		return line, false, true
	}
	return "", false, false
}

// aggregateToolCalls merges incremental tool-call fragments keyed by
// index into one toolCallBuilder per call, in first-seen index order;
// finish turns them into schema.ToolCall values.
func aggregateToolCalls(fragments []ChunkDelta) []toolCallBuilder {
	byIndex := make(map[int]*toolCallBuilder)
	var order []int
	for _, f := range fragments {
		if f.Kind != DeltaToolCallFragment {
			continue
		}
		b, ok := byIndex[f.Index]
		if !ok {
			b = &toolCallBuilder{}
			byIndex[f.Index] = b
			order = append(order, f.Index)
		}
		if f.Name != "" {
			b.name = f.Name
		}
		b.args.WriteString(f.Args)
	}
	out := make([]toolCallBuilder, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out
}

type toolCallBuilder struct {
	name string
	args strings.Builder
}
