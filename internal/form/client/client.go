// Package client 公开表单接口的 HTTP 客户端，供终端作答使用
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/form/runner"
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/google/uuid"
)

// APIError 服务端返回的错误
type APIError struct {
	Status  int
	Code    int
	Message string
	Fields  []*runner.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("otterform api error %d: %s", e.Code, e.Message)
}

// Client 公开表单客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	visitorID  string
}

// New 创建客户端，baseURL 形如 http://localhost:8080
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		httpClient: httpClient,
		visitorID:  uuid.New().String(),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path, password string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Visitor-ID", c.visitorID)
	if password != "" {
		req.Header.Set("X-Form-Password", password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if env.Code != 0 {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		if len(env.Data) > 0 {
			var detail struct {
				Fields []*runner.FieldError `json:"fields"`
			}
			if json.Unmarshal(env.Data, &detail) == nil {
				apiErr.Fields = detail.Fields
			}
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func formPath(slug, suffix string) string {
	return "/public/forms/" + url.PathEscape(slug) + suffix
}

// GetForm 按 slug 获取公开表单
func (c *Client) GetForm(ctx context.Context, slug, password string) (*service.PublicForm, error) {
	var form service.PublicForm
	if err := c.do(ctx, http.MethodGet, formPath(slug, ""), password, nil, &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// View 记录浏览
func (c *Client) View(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodPost, formPath(slug, "/view"), "", nil, nil)
}

// Start 记录开始作答
func (c *Client) Start(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodPost, formPath(slug, "/start"), "", nil, nil)
}

// Submit 提交回答，返回回答ID
func (c *Client) Submit(ctx context.Context, slug, password string, answers map[string]interface{}) (string, error) {
	req := service.SubmitRequest{
		Answers:  answers,
		Password: password,
		Metadata: map[string]interface{}{"source": "terminal"},
	}
	var out struct {
		ResponseID string `json:"response_id"`
	}
	if err := c.do(ctx, http.MethodPost, formPath(slug, "/responses"), password, req, &out); err != nil {
		return "", err
	}
	return out.ResponseID, nil
}
