package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL 飞书开放平台地址
const DefaultBaseURL = "https://open.feishu.cn"

// token 提前刷新的余量
const tokenRefreshMargin = time.Minute

// FeishuClient 飞书机器人客户端，只用于发送群消息卡片
type FeishuClient struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpire time.Time
}

// NewClient 创建飞书客户端
func NewClient(appID, appSecret string) *FeishuClient {
	return NewClientWithBaseURL(appID, appSecret, DefaultBaseURL)
}

// NewClientWithBaseURL 指定API地址（私有化部署、测试）
func NewClientWithBaseURL(appID, appSecret, baseURL string) *FeishuClient {
	return &FeishuClient{
		appID:      appID,
		appSecret:  appSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	BaseResponse
	AppAccessToken string `json:"app_access_token"`
	Expire         int    `json:"expire"`
}

// appToken 返回缓存的 app_access_token，过期前一分钟重新获取
func (c *FeishuClient) appToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpire) {
		return c.token, nil
	}

	var resp tokenResponse
	creds := map[string]string{"app_id": c.appID, "app_secret": c.appSecret}
	if err := c.post(ctx, "/open-apis/auth/v3/app_access_token/internal", "", creds, &resp); err != nil {
		return "", fmt.Errorf("获取飞书token失败: %w", err)
	}

	c.token = resp.AppAccessToken
	c.tokenExpire = time.Now().Add(time.Duration(resp.Expire)*time.Second - tokenRefreshMargin)
	return c.token, nil
}

// post 发送 JSON 请求并检查飞书错误码，result 须内嵌 BaseResponse
func (c *FeishuClient) post(ctx context.Context, path, token string, body interface{}, result interface{ code() (int, string) }) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求飞书失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("解析响应失败 (status=%d): %w", resp.StatusCode, err)
	}
	if code, msg := result.code(); code != 0 {
		return fmt.Errorf("飞书API错误[%d]: %s (path=%s)", code, msg, path)
	}
	return nil
}
