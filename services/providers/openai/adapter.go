package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sanoy-si/doom-blocker-backend/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	// responses larger than this are not completions we asked for
	maxResponseBytes = 1 << 20
)

var supportedModels = map[string]struct{}{
	"gpt-4o-mini":   {},
	"gpt-4o":        {},
	"gpt-4-turbo":   {},
	"gpt-4":         {},
	"gpt-3.5-turbo": {},
}

// OpenAIAdapter implements providers.ModelClient against the chat completions API
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter. Dialing and the TLS
// handshake are bounded by ConnectTimeout; every call is bounded by Timeout
// unless the request carries its own.
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	defaults := providers.DefaultProviderConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = config.ConnectTimeout
	transport.MaxIdleConnsPerHost = 10

	return &OpenAIAdapter{
		config:     config,
		httpClient: &http.Client{Transport: transport},
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return providerName
}

// Configured reports whether an API key is set
func (a *OpenAIAdapter) Configured() bool {
	return a.config.APIKey != ""
}

// Invoke performs one chat completion and returns the trimmed content of the first choice
func (a *OpenAIAdapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (string, error) {
	if err := a.ValidateModel(req.Model); err != nil {
		return "", providers.NewProviderError(a.Name(), providers.KindInvalidRequest, "INVALID_MODEL", err.Error(), http.StatusBadRequest, err)
	}
	if !a.Configured() {
		return "", providers.NewProviderError(a.Name(), providers.KindUnavailable, "NOT_CONFIGURED", "API key is not configured", 0, nil)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, err := json.Marshal(OpenAIChatRequest{
		Model: req.Model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: req.Prompt},
			{Role: "user", Content: req.Content},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", providers.NewProviderError(a.Name(), providers.KindInvalidRequest, "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", providers.NewProviderError(a.Name(), providers.KindInvalidRequest, "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	if a.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.config.OrgID)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", a.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", a.transportError(ctx, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return "", providers.NewProviderError(a.Name(), providers.KindBadResponse, "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", providers.NewProviderError(a.Name(), providers.KindBadResponse, "NO_CHOICES", "Completion has no choices", httpResp.StatusCode, nil)
	}

	return strings.TrimSpace(openaiResp.Choices[0].Message.Content), nil
}

// ValidateModel checks if a model is supported
func (a *OpenAIAdapter) ValidateModel(model string) error {
	if _, exists := supportedModels[model]; !exists {
		return fmt.Errorf("model %s is not supported by OpenAI provider", model)
	}
	return nil
}

// ListModels returns all available models
func (a *OpenAIAdapter) ListModels() []string {
	models := make([]string, 0, len(supportedModels))
	for model := range supportedModels {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// transportError classifies a failure to get a response at all
func (a *OpenAIAdapter) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return providers.NewProviderError(a.Name(), providers.KindTimeout, "TIMEOUT", "Request timed out", 0, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return providers.NewProviderError(a.Name(), providers.KindTimeout, "TIMEOUT", "Request timed out", 0, err)
	case errors.Is(err, context.Canceled):
		return providers.NewProviderError(a.Name(), providers.KindUnavailable, "CANCELED", "Request canceled", 0, err)
	default:
		return providers.NewProviderError(a.Name(), providers.KindUnavailable, "CONNECTION_ERROR", "HTTP request failed", 0, err)
	}
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp OpenAIErrorResponse
	message := strings.TrimSpace(string(body))
	code := "HTTP_" + fmt.Sprint(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != "" {
			code = errResp.Error.Code
		} else if errResp.Error.Type != "" {
			code = errResp.Error.Type
		}
	}

	return providers.NewProviderError(
		a.Name(),
		classifyStatus(statusCode, code+" "+message),
		code,
		fmt.Sprintf("OpenAI API error: %d", statusCode),
		statusCode,
		errors.New(message),
	)
}

func classifyStatus(statusCode int, text string) providers.ErrorKind {
	lower := strings.ToLower(text)
	switch {
	case statusCode == http.StatusTooManyRequests,
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limit"):
		return providers.KindQuota
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return providers.KindTimeout
	case statusCode >= 500:
		return providers.KindUnavailable
	default:
		return providers.KindInvalidRequest
	}
}

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
