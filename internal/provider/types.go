package provider

import (
	"context"
	"fmt"
	"time"
)

// Completer is the minimal surface the coordination core depends on:
// given a prompt and generation parameters, return a text completion.
// Any failure is a *ProviderError and is recoverable by the caller.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-shot completion request.
type CompletionRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	Completion   string `json:"completion"`
	ModelID      string `json:"model_id"`
	Usage        Usage  `json:"usage"`
	RequestID    string `json:"request_id"`
	FinishReason string `json:"finish_reason"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ProviderError is an opaque failure from the completion service.
type ProviderError struct {
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

// ClientConfig holds configuration for a concrete client.
type ClientConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
