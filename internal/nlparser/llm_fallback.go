package nlparser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// LLMConfig carries the API key, base URL, and model settings for the
// chat-completion fallback client.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// LLMFallback asks a chat-completion model to classify a command the
// pattern table couldn't place, and maps its structured reply onto the same
// Intent shape a pattern match would produce. It is consulted only after
// every pattern category has missed.
type LLMFallback struct {
	client *openai.Client
	cfg    LLMConfig
}

func NewLLMFallback(cfg LLMConfig) *LLMFallback {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &LLMFallback{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

type llmIntentReply struct {
	Action     string             `json:"action"`
	Parameters map[string]float64 `json:"parameters"`
	Confidence float64            `json:"confidence"`
}

func (f *LLMFallback) systemPrompt() string {
	return `You classify a single drone-control command into one action and its numeric
parameters. Valid actions: connect, disconnect, takeoff, land, move, rotate,
altitude, photo, streaming, detection, tracking, learning_data, emergency,
status. For move use parameters direction (0=forward,1=back,2=left,3=right,
4=up,5=down) and distance (cm). For rotate use direction (0=clockwise,
1=counterclockwise) and angle (degrees). For altitude use target (cm).
Reply with a single JSON object: {"action":"...","parameters":{...},"confidence":0.0-1.0}
and nothing else.`
}

// Interpret calls the chat-completion API and parses its single JSON object
// reply into an Intent.
func (f *LLMFallback) Interpret(ctx context.Context, command string) (domain.Intent, error) {
	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: f.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: command},
		},
		MaxTokens:   f.cfg.MaxTokens,
		Temperature: f.cfg.Temperature,
	})
	if err != nil {
		return domain.Intent{}, domain.NewTransportError(domain.CodeProtocolError, "language model request failed", err.Error())
	}
	if len(resp.Choices) == 0 {
		return domain.Intent{}, domain.NewTransportError(domain.CodeProtocolError, "language model returned no choices", "empty Choices slice")
	}

	content := resp.Choices[0].Message.Content
	reply, err := parseLLMReply(content)
	if err != nil {
		return domain.Intent{}, domain.NewValidationError(domain.CodeSchemaMismatch, "could not parse language model reply", err.Error())
	}

	return domain.Intent{
		Action:     domain.Action(reply.Action),
		Parameters: reply.Parameters,
		Confidence: reply.Confidence,
	}, nil
}

func parseLLMReply(content string) (llmIntentReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}") + 1
	if start == -1 || end == 0 || start >= end {
		return llmIntentReply{}, fmt.Errorf("no JSON object found in reply")
	}
	var reply llmIntentReply
	if err := json.Unmarshal([]byte(content[start:end]), &reply); err != nil {
		return llmIntentReply{}, err
	}
	return reply, nil
}
