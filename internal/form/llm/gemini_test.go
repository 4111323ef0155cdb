package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiTestClient(url string) *GeminiClient {
	return NewGeminiClient(Config{
		Provider:     ProviderGemini,
		APIKey:       "gem-key",
		BaseURL:      url,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Timeout:      5 * time.Second,
	})
}

func TestGeminiClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/"+DefaultGeminiModel+":generateContent"), r.URL.Path)

		var body struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			GenerationConfig struct {
				ResponseMIMEType string `json:"responseMimeType"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 2)
		assert.Equal(t, "model", body.Contents[0].Role)
		assert.Equal(t, "user", body.Contents[1].Role)
		assert.Equal(t, "hello", body.Contents[1].Parts[0].Text)
		require.NotNil(t, body.SystemInstruction)
		assert.Equal(t, "be a form consultant", body.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "application/json", body.GenerationConfig.ResponseMIMEType)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":" {\"message\":\"hi\"} "}]}}]}`))
	}))
	defer srv.Close()

	c := geminiTestClient(srv.URL)
	assert.Equal(t, ProviderGemini, c.Provider())

	out, err := c.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be a form consultant"},
			{Role: RoleAssistant, Content: "current schema"},
			{Role: RoleUser, Content: "hello"},
		},
		Model:    DefaultModel,
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"message":"hi"}`, out)
}

func TestGeminiClient_ClassifiesAuthError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`))
	}))
	defer srv.Close()

	_, err := geminiTestClient(srv.URL).Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindAuth, lerr.Kind)
	assert.Equal(t, http.StatusUnauthorized, lerr.Status)
	assert.Equal(t, userMessages[KindAuth], lerr.UserMessage)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeminiClient_MissingKey(t *testing.T) {
	c := NewGeminiClient(Config{Provider: ProviderGemini})
	assert.Equal(t, DefaultGeminiModel, c.cfg.Model)
	assert.Empty(t, c.baseURL)

	_, err := c.Complete(context.Background(), Request{})
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindAuth, lerr.Kind)
}
