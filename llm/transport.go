package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loopwire/turnroom/guardrail"
	"github.com/loopwire/turnroom/schema"
)

// chatRequest is the wire body POSTed to <base>/v1/chat/completions, per
// spec.md §6.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Temperature float64   `json:"temperature"`
	NumCtx      int       `json:"num_ctx,omitempty"`
	KeepAlive   string    `json:"keep_alive,omitempty"`
}

// Transport is the streaming chat client described in spec.md §4.5.
// ChatOnce tries baseURL then fallbackURL (a provider-native endpoint),
// once each, using successive ConnectStages entries as each attempt's
// first-chunk timeout; no preflight request is made. Once connected, the
// same SSE parser handles both wire shapes via parseChunk.
type Transport struct {
	BaseURL     string
	FallbackURL string
	HTTPClient  *http.Client

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// NewTransport builds a Transport against baseURL, with an optional
// provider-native fallback endpoint.
func NewTransport(baseURL, fallbackURL string) *Transport {
	return &Transport{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		FallbackURL: strings.TrimRight(fallbackURL, "/"),
		HTTPClient:  &http.Client{},
	}
}

// InterruptChat aborts the in-flight stream, if any. Safe to call when
// nothing is in flight.
func (t *Transport) InterruptChat() {
	t.mu.Lock()
	cancel := t.cancelFunc
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Transport) setCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancelFunc = cancel
	t.mu.Unlock()
}

func (t *Transport) clearCancel() {
	t.mu.Lock()
	t.cancelFunc = nil
	t.mu.Unlock()
}

// ChatOnce streams one completion from the provider for agentID. opts
// supplies the model, temperature, tools, watchdog durations, detector
// registry and lease-touch hook.
func (t *Transport) ChatOnce(ctx context.Context, agentID string, messages []Message, opts CallOptions) (AssistantMessage, error) {
	stages := opts.ConnectStages
	if len(stages) == 0 {
		stages = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 150 * time.Second
	}
	hardStop := opts.HardStop
	if hardStop <= 0 {
		hardStop = 300 * time.Second
	}

	req := chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Stream:      true,
		Tools:       opts.Tools,
		ToolChoice:  opts.ToolChoice,
		Temperature: opts.Temperature,
		NumCtx:      opts.NumCtx,
		KeepAlive:   opts.KeepAlive,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return AssistantMessage{}, schema.NewTransportError(t.BaseURL, err)
	}

	endpoints := []string{t.BaseURL + "/v1/chat/completions"}
	if t.FallbackURL != "" {
		endpoints = append(endpoints, t.FallbackURL)
	}

	var lastErr error
	for i, endpoint := range endpoints {
		stage := stages[0]
		if i < len(stages) {
			stage = stages[i]
		}
		msg, err := t.streamOne(ctx, endpoint, body, stage, idle, hardStop, opts)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}

	return AssistantMessage{Content: "the model is warming up or unavailable right now"},
		schema.NewTransportError(t.BaseURL, lastErr)
}

// streamOne performs one staged-timeout attempt against a single
// endpoint.
func (t *Transport) streamOne(parent context.Context, endpoint string, body []byte, firstChunkTimeout, idle, hardStop time.Duration, opts CallOptions) (AssistantMessage, error) {
	streamCtx, cancel := context.WithTimeout(parent, hardStop)
	t.setCancel(cancel)
	defer func() {
		cancel()
		t.clearCancel()
	}()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return AssistantMessage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return AssistantMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AssistantMessage{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.readSingleJSON(resp.Body, opts)
	}

	return t.readSSE(streamCtx, resp.Body, firstChunkTimeout, idle, opts)
}

// readSingleJSON handles a non-streaming application/json response,
// treated as a single completion per spec.md §4.5.
func (t *Transport) readSingleJSON(body io.Reader, opts CallOptions) (AssistantMessage, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return AssistantMessage{}, err
	}
	deltas, _, err := parseChunk(buf.Bytes())
	if err != nil {
		return AssistantMessage{}, err
	}
	return assemble(deltas, opts), nil
}

// readSSE drives the per-chunk loop: sanitize, accumulate, touch the
// lease, run abort detectors, honor idle/hard-stop watchdogs.
func (t *Transport) readSSE(ctx context.Context, body io.Reader, firstChunkTimeout, idle time.Duration, opts CallOptions) (AssistantMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make(chan string, 16)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sanitizer := guardrail.NewSanitizer()
	var accumulated strings.Builder
	var reasoning strings.Builder
	var fragments []ChunkDelta
	var censored bool
	var cutReason string

	watchdog := firstChunkTimeout
	for {
		timer := time.NewTimer(watchdog)
		select {
		case <-ctx.Done():
			timer.Stop()
			err := schema.ErrStreamInterrupted
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = schema.ErrStreamHardStop
			}
			return finish(accumulated.String(), reasoning.String(), fragments, censored, cutReason), err

		case <-timer.C:
			return finish(accumulated.String(), reasoning.String(), fragments, censored, cutReason), schema.ErrStreamIdle

		case line, ok := <-lines:
			timer.Stop()
			if !ok {
				return finish(accumulated.String(), reasoning.String(), fragments, censored, cutReason), nil
			}
			payload, done, hasPayload := parseSSELine(line)
			if done {
				return finish(accumulated.String(), reasoning.String(), fragments, censored, cutReason), nil
			}
			if !hasPayload {
				continue
			}
			deltas, chunkDone, err := parseChunk([]byte(payload))
			if err != nil {
				continue
			}
			watchdog = idle

			for _, d := range deltas {
				switch d.Kind {
				case DeltaContent:
					clean := sanitizer.Sanitize(d.Text)
					accumulated.WriteString(clean)
				case DeltaReasoning:
					reasoning.WriteString(d.Text)
				case DeltaToolCallFragment:
					fragments = append(fragments, d)
				}
				if opts.OnData != nil {
					opts.OnData(d)
				}
			}

			if opts.Detectors != nil {
				if cut := opts.Detectors.Run(accumulated.String(), opts.DetectContext); cut != nil {
					text := accumulated.String()
					if cut.Index < len(text) {
						text = text[:cut.Index]
					}
					censored = true
					cutReason = cut.Reason
					return finish(text, reasoning.String(), fragments, censored, cutReason), nil
				}
			}

			if chunkDone {
				return finish(accumulated.String(), reasoning.String(), fragments, censored, cutReason), nil
			}
		}
	}
}

func finish(content, reasoning string, fragments []ChunkDelta, censored bool, reason string) AssistantMessage {
	builders := aggregateToolCalls(fragments)
	calls := make([]schema.ToolCall, 0, len(builders))
	for _, b := range builders {
		calls = append(calls, schema.ToolCall{
			ID:        schema.NewID(),
			Name:      b.name,
			Arguments: b.args.String(),
		})
	}
	return AssistantMessage{
		Content:   strings.TrimSpace(content),
		Reasoning: reasoning,
		ToolCalls: calls,
		Censored:  censored,
		CutReason: reason,
	}
}

func assemble(deltas []ChunkDelta, opts CallOptions) AssistantMessage {
	var content, reasoning strings.Builder
	var fragments []ChunkDelta
	for _, d := range deltas {
		switch d.Kind {
		case DeltaContent:
			content.WriteString(d.Text)
		case DeltaReasoning:
			reasoning.WriteString(d.Text)
		case DeltaToolCallFragment:
			fragments = append(fragments, d)
		}
	}
	return finish(content.String(), reasoning.String(), fragments, false, "")
}
