package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
	"github.com/abdhe/llm-chat-proxy/pkg/resilience"
)

const (
	GeminiName = "gemini"

	defaultGeminiModel   = "gemini-2.0-flash"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultTemperature   = 0.7
	defaultMaxTokens     = 2048
	defaultTimeout       = 60 * time.Second
)

// GeminiConfig configures a GeminiProvider. Zero values select defaults.
type GeminiConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float32
	MaxOutputTokens int
	Timeout         time.Duration // bounds Chat; streams follow the caller's context
	Retry           resilience.RetryConfig
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// GeminiProvider implements the Provider interface for Google's Gemini API.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
	logger *slog.Logger
}

// NewGeminiProvider creates a new Gemini provider. It fails with a
// configuration error when no usable API key is set.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if !apiKeyConfigured(cfg.APIKey) {
		return nil, NewConfigurationError(GeminiName,
			"gemini API key not configured. Please set MODEL_API_KEY environment variable", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry == (resilience.RetryConfig{}) {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &GeminiProvider{cfg: cfg, client: client, logger: logger.With("provider", GeminiName)}
	g.logger.Info("gemini provider initialized", "model", cfg.Model)
	return g, nil
}

func (g *GeminiProvider) Name() string { return GeminiName }

// geminiRequest is the Gemini API request body.
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse is the Gemini API response body, also used for each SSE event.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// text joins the text parts of the first candidate.
func (r *geminiResponse) text() (string, string) {
	if len(r.Candidates) == 0 {
		return "", ""
	}
	c := r.Candidates[0]
	var b strings.Builder
	for _, p := range c.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), c.FinishReason
}

// convertMessages maps the neutral conversation onto Gemini contents.
// System messages become the system instruction; unknown roles are sent as
// user turns.
func (g *GeminiProvider) convertMessages(conv []Message) ([]geminiContent, *geminiContent) {
	contents := make([]geminiContent, 0, len(conv))
	var system *geminiContent

	for _, m := range conv {
		switch m.Role {
		case RoleSystem:
			if system == nil {
				system = &geminiContent{}
			}
			system.Parts = append(system.Parts, geminiPart{Text: m.Content})
		case RoleUser:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		case RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			g.logger.Warn("unknown message role, sending as user", "role", string(m.Role))
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	// Gemini rejects a request without contents, so a system-only
	// conversation is sent as a single user turn.
	if len(contents) == 0 && system != nil {
		g.logger.Debug("conversation has only system messages, sending them as user")
		contents = append(contents, geminiContent{Role: "user", Parts: system.Parts})
		system = nil
	}
	return contents, system
}

func (g *GeminiProvider) buildRequest(conv []Message) ([]byte, error) {
	contents, system := g.convertMessages(conv)
	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenConfig{
			Temperature:     g.cfg.Temperature,
			MaxOutputTokens: g.cfg.MaxOutputTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}
	return body, nil
}

// Chat performs a unary generateContent call.
func (g *GeminiProvider) Chat(ctx context.Context, conv []Message) (string, error) {
	if err := g.ValidateConfiguration(); err != nil {
		return "", err
	}
	body, err := g.buildRequest(conv)
	if err != nil {
		return "", report(g.logger, GeminiName, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	g.logger.Debug("sending messages to gemini", "count", len(conv))

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model)
	var gemResp geminiResponse
	err = resilience.Retry(ctx, g.cfg.Retry, func(ctx context.Context) error {
		httpResp, err := g.post(ctx, url, body)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		var decoded geminiResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("gemini: decode response: %w", err)
		}
		gemResp = decoded
		return nil
	})
	if err != nil {
		return "", report(g.logger, GeminiName, err)
	}

	text, finishReason := gemResp.text()
	if text == "" {
		return "", report(g.logger, GeminiName,
			fmt.Errorf("gemini: empty response (finish reason %q)", finishReason))
	}

	if u := gemResp.UsageMetadata; u != nil {
		metrics.RecordTokens(GeminiName, g.cfg.Model, u.PromptTokenCount, u.CandidatesTokenCount)
	}
	g.logger.Debug("received response from gemini", "chars", len(text))
	return text, nil
}

// ChatStream performs a streamGenerateContent call over SSE. Retries only
// happen before the first fragment is produced.
func (g *GeminiProvider) ChatStream(ctx context.Context, conv []Message) (<-chan StreamChunk, error) {
	if err := g.ValidateConfiguration(); err != nil {
		return nil, err
	}
	body, err := g.buildRequest(conv)
	if err != nil {
		return nil, report(g.logger, GeminiName, err)
	}

	g.logger.Debug("starting gemini stream", "count", len(conv))

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", g.cfg.BaseURL, g.cfg.Model)
	var httpResp *http.Response
	err = resilience.Retry(ctx, g.cfg.Retry, func(ctx context.Context) error {
		resp, err := g.post(ctx, url, body)
		if err != nil {
			return err
		}
		httpResp = resp
		return nil
	})
	if err != nil {
		return nil, report(g.logger, GeminiName, err)
	}

	ch := make(chan StreamChunk, 16)
	go g.relay(ctx, httpResp.Body, ch)
	return ch, nil
}

// relay reads SSE events from body and forwards text fragments on ch.
func (g *GeminiProvider) relay(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer close(ch)
	defer body.Close()

	send := func(c StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			g.logger.Debug("gemini stream cancelled", "error", err)
			return
		}
		send(StreamChunk{Err: report(g.logger, GeminiName, err)})
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fragments := 0
	finishReason := ""
	var inputTokens, outputTokens int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event geminiResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			fail(fmt.Errorf("gemini: stream decode: %w", err))
			return
		}
		if event.Error != nil {
			fail(&resilience.HTTPError{StatusCode: event.Error.Code, Message: event.Error.Message})
			return
		}

		if u := event.UsageMetadata; u != nil {
			inputTokens, outputTokens = u.PromptTokenCount, u.CandidatesTokenCount
		}

		text, reason := event.text()
		if reason != "" {
			finishReason = reason
		}
		if text == "" {
			continue
		}
		if !send(StreamChunk{Text: text}) {
			return
		}
		fragments++
	}

	if err := scanner.Err(); err != nil {
		fail(fmt.Errorf("gemini: stream read: %w", err))
		return
	}
	if fragments == 0 {
		fail(fmt.Errorf("gemini: empty response (finish reason %q)", finishReason))
		return
	}
	metrics.RecordTokens(GeminiName, g.cfg.Model, inputTokens, outputTokens)
	g.logger.Debug("completed gemini stream", "fragments", fragments)
}

// post sends body to url and returns the response when the status is 200.
// Non-200 responses become *resilience.HTTPError carrying Gemini's message.
func (g *GeminiProvider) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, &resilience.HTTPError{StatusCode: httpResp.StatusCode, Message: geminiErrorMessage(respBody)}
	}
	return httpResp, nil
}

// geminiErrorMessage extracts error.message from a Gemini error body, falling
// back to the raw body.
func geminiErrorMessage(body []byte) string {
	var errResp geminiResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// ValidateConfiguration checks that the API key is set and the client exists.
func (g *GeminiProvider) ValidateConfiguration() error {
	if !apiKeyConfigured(g.cfg.APIKey) {
		return NewConfigurationError(GeminiName, "gemini API key not configured", nil)
	}
	if g.client == nil {
		return NewConfigurationError(GeminiName, "gemini client not initialized", nil)
	}
	return nil
}

func (g *GeminiProvider) ModelInfo() ModelInfo {
	return ModelInfo{
		Provider:     "google",
		Model:        g.cfg.Model,
		Type:         "chat",
		Capabilities: []string{"text", "streaming"},
		MaxTokens:    g.cfg.MaxOutputTokens,
		Configured:   g.client != nil && apiKeyConfigured(g.cfg.APIKey),
	}
}
