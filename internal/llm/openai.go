package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	GenerateTimeout time.Duration
	HealthTimeout   time.Duration
}

// OpenAI speaks the chat-completions dialect, which covers the hosted
// API and every local server that mimics it (vLLM, LM Studio, llamafile).
type OpenAI struct {
	client        *openai.Client
	model         string
	healthTimeout time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 120 * time.Second
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 3 * time.Second
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: generateTimeout}

	return &OpenAI{
		client:        openai.NewClientWithConfig(clientConfig),
		model:         model,
		healthTimeout: healthTimeout,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat completion choices", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAI) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.healthTimeout)
	defer cancel()
	_, err := o.client.ListModels(ctx)
	return err == nil
}

func (o *OpenAI) Model() string { return o.model }
