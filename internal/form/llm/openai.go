package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 4 * 1024 * 1024

// OpenAIClient OpenAI 兼容的 chat/completions 客户端（OpenRouter、OpenAI 等）
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewOpenAIClient 创建客户端
func NewOpenAIClient(cfg Config) *OpenAIClient {
	cfg = cfg.withDefaults()
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Provider 服务商名称
func (c *OpenAIClient) Provider() string {
	return ProviderOpenAI
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// Complete 发送补全请求，429/5xx 按指数退避重试
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}
	if apiKey == "" {
		return "", NewError(KindAuth, 0, "api key not configured", nil)
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := chatRequest{Model: model, Messages: req.Messages}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(c.cfg.RetryBackoff, attempt)); err != nil {
				return "", classifyTransport(err)
			}
		}

		content, cerr := c.do(ctx, apiKey, payload)
		if cerr == nil {
			return content, nil
		}
		lastErr = cerr
		if !cerr.Retryable() {
			return "", cerr
		}
	}
	return "", lastErr
}

func (c *OpenAIClient) do(ctx context.Context, apiKey string, payload []byte) (string, *Error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", NewError(KindBadRequest, 0, err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	httpReq.Header.Set("X-Title", c.cfg.SiteName)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", classifyTransport(ctx.Err())
		}
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Classify(resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", NewError(KindInvalidResponse, resp.StatusCode, "decode response: "+err.Error(), err)
	}
	if parsed.Error != nil {
		return "", Classify(errorStatus(parsed.Error.Code), parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", NewError(KindInvalidResponse, resp.StatusCode, "no choices returned", nil)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", NewError(KindInvalidResponse, resp.StatusCode, "empty completion", nil)
	}
	return content, nil
}

// errorStatus OpenRouter 在 200 响应体中返回的错误码
func errorStatus(code interface{}) int {
	if n, ok := code.(float64); ok && n >= 400 && n < 600 {
		return int(n)
	}
	return http.StatusBadGateway
}
