package assistant

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"telehealth-portal-server/internal/config"
)

// HTTPProvider talks to any OpenAI-compatible chat completions API.
type HTTPProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewHTTPProvider builds a provider from configuration.
func NewHTTPProvider(cfg config.AIProviderConfig, timeout time.Duration) *HTTPProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return &HTTPProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// ProvidersFromConfig builds the providers in configured order.
func ProvidersFromConfig(cfg config.AIConfig) []Provider {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, NewHTTPProvider(p, cfg.Timeout))
	}
	return providers
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Complete(ctx context.Context, req Request) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		Temperature: float32(req.Temperature),
	}
	for _, m := range req.Messages {
		chat.Messages = append(chat.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", p.fail(failureOf(err), err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", p.fail(FailureHard, errors.New("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

// failureOf maps a client error onto the chain's failure kinds. Rate limits
// and outages move on to the next provider; anything the provider rejected
// or answered with garbage stops the chain.
func failureOf(err error) FailureKind {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status >= 500:
		return FailureUnavailable
	case status > 0:
		return FailureHard
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return FailureUnavailable
	}
	return FailureHard
}

func (p *HTTPProvider) fail(kind FailureKind, err error) error {
	return &ProviderError{Provider: p.name, Kind: kind, Err: err}
}
