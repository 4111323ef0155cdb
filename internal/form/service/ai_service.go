package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/llm"
	"go.uber.org/zap"
)

// ErrGenerationFailed 非上游分类错误时返回给用户的提示
var ErrGenerationFailed = errors.New("Failed to generate response. Please try again.")

// AIService AI 表单生成与修改
type AIService struct {
	completer llm.Completer
	formSvc   *FormService
	limiter   *Limiter
	cfg       config.LLMConfig
	logger    *zap.Logger
	now       func() time.Time
}

// LLMConfig 转换为补全客户端配置
func LLMConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:     cfg.Provider,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		SiteURL:      cfg.SiteURL,
		SiteName:     cfg.SiteName,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}
}

// NewAIService 创建 AI 服务；completer 为空时按配置使用 OpenAI 兼容客户端
func NewAIService(completer llm.Completer, formSvc *FormService, limiter *Limiter, cfg config.LLMConfig, logger *zap.Logger) *AIService {
	if completer == nil {
		completer = llm.NewOpenAIClient(LLMConfig(cfg))
	}
	if cfg.RateLimitEvery <= 0 {
		cfg.RateLimitEvery = time.Minute
	}
	return &AIService{
		completer: completer,
		formSvc:   formSvc,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// GenerateRequest AI 生成请求
type GenerateRequest struct {
	Prompt        string             `json:"prompt" binding:"required"`
	CurrentSchema *entity.FormSchema `json:"current_schema"`
	APIKey        string             `json:"api_key"`
	Model         string             `json:"model"`
}

// GenerateResult AI 回复
type GenerateResult struct {
	Message string             `json:"message"`
	Schema  *entity.FormSchema `json:"schema,omitempty"`
}

// Generate 生成或修改表单结构。有结构时写回表单，并记录对话
func (s *AIService) Generate(ctx context.Context, ownerID, formID string, req *GenerateRequest) (*GenerateResult, error) {
	form, err := s.formSvc.Get(ctx, ownerID, formID)
	if err != nil {
		return nil, err
	}

	apiKey := firstNonEmpty(req.APIKey, s.cfg.APIKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	model := firstNonEmpty(req.Model, s.cfg.Model)
	if model == "" && s.completer.Provider() == llm.ProviderOpenAI {
		model = llm.DefaultModel
	}

	allowed, err := s.limiter.Allow(ctx, "ai:"+ownerID, s.cfg.RateLimit, s.cfg.RateLimitEvery)
	if err != nil {
		s.logger.Warn("AI rate limit check failed", zap.String("user_id", ownerID), zap.Error(err))
	} else if !allowed {
		return nil, ErrRateLimited
	}

	current := req.CurrentSchema
	if current == nil {
		if stored := form.Schema.Data(); len(stored.Fields) > 0 {
			current = &stored
		}
	}

	prompt := strings.TrimSpace(req.Prompt)
	messages, err := buildMessages(prompt, current)
	if err != nil {
		return nil, err
	}

	start := s.now()
	raw, err := s.completer.Complete(ctx, llm.Request{
		Messages: messages,
		Model:    model,
		APIKey:   apiKey,
		JSONMode: true,
	})
	if err == nil {
		var reply *aiReply
		if reply, err = parseReply(raw); err == nil {
			return s.apply(ctx, form, prompt, model, reply)
		}
	}

	s.logger.Error("AI generation failed",
		zap.String("form_id", formID),
		zap.String("model", model),
		zap.Duration("elapsed", s.now().Sub(start)),
		zap.Error(err),
	)
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return nil, llmErr
	}
	return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}

func (s *AIService) apply(ctx context.Context, form *entity.Form, prompt, model string, reply *aiReply) (*GenerateResult, error) {
	history := append([]entity.ChatMessage(nil), form.ChatHistory...)
	history = append(history,
		entity.ChatMessage{Role: entity.ChatRoleUser, Content: prompt},
		entity.ChatMessage{Role: entity.ChatRoleAssistant, Content: reply.Message},
	)

	generation := map[string]interface{}{
		"provider":     s.completer.Provider(),
		"model":        model,
		"generated_at": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.formSvc.ApplyGeneration(ctx, form, reply.Schema, history, generation); err != nil {
		return nil, err
	}

	s.logger.Info("AI generation applied",
		zap.String("form_id", form.ID),
		zap.Bool("schema_updated", reply.Schema != nil),
	)
	return &GenerateResult{Message: reply.Message, Schema: reply.Schema}, nil
}
