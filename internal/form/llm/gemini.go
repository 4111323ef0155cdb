package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel Gemini 默认模型
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient Google Gemini 客户端
type GeminiClient struct {
	cfg     Config
	baseURL string
}

// NewGeminiClient 创建客户端。BaseURL 为空或为 OpenRouter 默认地址时使用 Gemini 官方地址
func NewGeminiClient(cfg Config) *GeminiClient {
	if cfg.Model == "" || cfg.Model == DefaultModel {
		cfg.Model = DefaultGeminiModel
	}
	c := &GeminiClient{cfg: cfg.withDefaults()}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" && base != DefaultBaseURL {
		c.baseURL = base + "/"
	}
	return c
}

// Provider 服务商名称
func (c *GeminiClient) Provider() string {
	return ProviderGemini
}

// Complete 发送补全请求。system 消息作为 SystemInstruction，assistant 映射为 model 角色
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
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
	if model == "" || model == DefaultModel {
		model = c.cfg.Model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(c.cfg.RetryBackoff, attempt)); err != nil {
				return "", classifyTransport(err)
			}
		}

		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			lastErr = classifyGenAI(err)
			if !lastErr.Retryable() {
				return "", lastErr
			}
			continue
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", NewError(KindInvalidResponse, 0, "empty completion", nil)
		}
		return text, nil
	}
	return "", lastErr
}

func classifyGenAI(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		e := Classify(apiErr.Code, apiErr.Message)
		e.Err = err
		return e
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		e := Classify(apiErrPtr.Code, apiErrPtr.Message)
		e.Err = err
		return e
	}
	return classifyTransport(err)
}
