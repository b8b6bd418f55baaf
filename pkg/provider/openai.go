package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
	"github.com/abdhe/llm-chat-proxy/pkg/resilience"
)

const (
	OpenAIName = "openai"

	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAIProvider. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Retry       resilience.RetryConfig
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// OpenAIProvider implements the Provider interface on top of the
// Chat Completions API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if !apiKeyConfigured(cfg.APIKey) {
		return nil, NewConfigurationError(OpenAIName,
			"openai API key not configured. Please set MODEL_API_KEY environment variable", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry == (resilience.RetryConfig{}) {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{}
	}

	o := &OpenAIProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With("provider", OpenAIName),
	}
	o.logger.Info("openai provider initialized", "model", cfg.Model)
	return o, nil
}

func (o *OpenAIProvider) Name() string { return OpenAIName }

func (o *OpenAIProvider) request(conv []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(conv))
	for _, m := range conv {
		role := string(m.Role)
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleUser:
			role = openai.ChatMessageRoleUser
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			o.logger.Warn("unknown message role, sending as user", "role", role)
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
}

func (o *OpenAIProvider) Chat(ctx context.Context, conv []Message) (string, error) {
	if err := o.ValidateConfiguration(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	o.logger.Debug("sending messages to openai", "count", len(conv))

	req := o.request(conv)
	var resp openai.ChatCompletionResponse
	err := resilience.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		r, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return asHTTPError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", report(o.logger, OpenAIName, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		finishReason := ""
		if len(resp.Choices) > 0 {
			finishReason = string(resp.Choices[0].FinishReason)
		}
		return "", report(o.logger, OpenAIName,
			fmt.Errorf("openai: empty response (finish reason %q)", finishReason))
	}
	metrics.RecordTokens(OpenAIName, o.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) ChatStream(ctx context.Context, conv []Message) (<-chan StreamChunk, error) {
	if err := o.ValidateConfiguration(); err != nil {
		return nil, err
	}

	o.logger.Debug("starting openai stream", "count", len(conv))

	req := o.request(conv)
	req.Stream = true
	var stream *openai.ChatCompletionStream
	err := resilience.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		s, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return asHTTPError(err)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, report(o.logger, OpenAIName, err)
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		fail := func(err error) {
			if ctx.Err() != nil {
				o.logger.Debug("openai stream cancelled", "error", err)
				return
			}
			select {
			case ch <- StreamChunk{Err: report(o.logger, OpenAIName, err)}:
			case <-ctx.Done():
			}
		}

		fragments := 0
		finishReason := ""
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if fragments == 0 {
					fail(fmt.Errorf("openai: empty response (finish reason %q)", finishReason))
				}
				return
			}
			if err != nil {
				fail(asHTTPError(err))
				return
			}
			for _, choice := range resp.Choices {
				if choice.FinishReason != "" {
					finishReason = string(choice.FinishReason)
				}
				if choice.Delta.Content == "" {
					continue
				}
				fragments++
				select {
				case ch <- StreamChunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// asHTTPError converts go-openai status errors so they retry and classify
// like any other upstream HTTP failure.
func asHTTPError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &resilience.HTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &resilience.HTTPError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}

func (o *OpenAIProvider) ValidateConfiguration() error {
	if !apiKeyConfigured(o.cfg.APIKey) {
		return NewConfigurationError(OpenAIName, "openai API key not configured", nil)
	}
	if o.client == nil {
		return NewConfigurationError(OpenAIName, "openai client not initialized", nil)
	}
	return nil
}

func (o *OpenAIProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Provider:     "openai",
		Model:        o.cfg.Model,
		Type:         "chat",
		Capabilities: []string{"text", "streaming"},
		MaxTokens:    o.cfg.MaxTokens,
		Configured:   o.client != nil && apiKeyConfigured(o.cfg.APIKey),
	}
}
