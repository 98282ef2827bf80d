package llmproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Message is one chat-completions turn (spec §6's wire contract).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the per-call sampling parameters.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// ChatResponse mirrors the {choices:[{message:{content}}]} shape spec §6
// requires of the local completions server.
type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Text returns the first choice's message content, or "" if the response
// carried no choices.
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ErrNotReady is returned when ChatCompletions is called while the server
// is not in the ready state. Callers treat this as a retryable failure
// (spec §4.D) and let the job queue's backoff handle the outage.
var ErrNotReady = fmt.Errorf("llm server is not ready")

// ChatCompletions posts messages to the server's completions endpoint,
// gated on the supervisor being ready and circuit-broken against repeated
// transport failures.
func (s *Supervisor) ChatCompletions(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.doChatCompletions(ctx, messages, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ChatResponse), nil
}

func (s *Supervisor) doChatCompletions(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat completions request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+s.opts.CompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat completions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat completions response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completions error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed ChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat completions response: %w", err)
	}
	return &parsed, nil
}
