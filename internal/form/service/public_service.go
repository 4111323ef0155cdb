package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/runner"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// PublicService 公开表单服务（填写者，无需登录）
type PublicService struct {
	forms     *repository.FormRepository
	responses *repository.ResponseRepository
	limiter   *Limiter
	hub       *sse.Hub
	notifier  Notifier
	cfg       config.FormConfig
	logger    *zap.Logger
	now       func() time.Time
	notifying sync.WaitGroup
}

// 新回答通知的超时时间
const notifyTimeout = 10 * time.Second

// NewPublicService 创建公开表单服务
func NewPublicService(repos *repository.Repositories, limiter *Limiter, hub *sse.Hub, notifier Notifier, cfg *config.Config, logger *zap.Logger) *PublicService {
	return &PublicService{
		forms:     repos.Form,
		responses: repos.Response,
		limiter:   limiter,
		hub:       hub,
		notifier:  notifier,
		cfg:       cfg.Form,
		logger:    logger,
		now:       time.Now,
	}
}

// PublicForm 对填写者公开的表单视图
type PublicForm struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	Slug             string             `json:"slug"`
	IsActive         bool               `json:"is_active"`
	IsLocked         bool               `json:"is_locked"`
	IsExpired        bool               `json:"is_expired"`
	RequiresPassword bool               `json:"requires_password"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	Schema           *entity.FormSchema `json:"schema"`
}

func (s *PublicService) view(form *entity.Form, unlocked bool) *PublicForm {
	v := &PublicForm{
		ID:               form.ID,
		Title:            form.Title,
		Description:      form.Description,
		Slug:             form.Slug,
		IsActive:         form.IsActive,
		IsExpired:        form.Expired(s.now()),
		RequiresPassword: form.RequiresPassword,
		ExpiresAt:        form.ExpiresAt,
	}
	if unlocked {
		schema := form.Schema.Data()
		v.Schema = &schema
	} else {
		v.IsLocked = true
	}
	return v
}

func checkPassword(form *entity.Form, password string) bool {
	if !form.RequiresPassword {
		return true
	}
	if password == "" || form.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(form.PasswordHash), []byte(password)) == nil
}

func (s *PublicService) findBySlug(ctx context.Context, slug string) (*entity.Form, error) {
	form, err := s.forms.FindBySlug(ctx, slug)
	if err != nil {
		return nil, notFound(err, ErrFormNotFound)
	}
	return form, nil
}

// GetBySlug 获取公开表单；密码错误或缺失时不返回结构
func (s *PublicService) GetBySlug(ctx context.Context, slug, password string) (*PublicForm, error) {
	form, err := s.findBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.view(form, checkPassword(form, password)), nil
}

// Unlock 使用密码解锁表单
func (s *PublicService) Unlock(ctx context.Context, slug, password string) (*PublicForm, error) {
	form, err := s.findBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !checkPassword(form, password) {
		return nil, ErrInvalidPassword
	}
	return s.view(form, true), nil
}

// RecordView 记录浏览
func (s *PublicService) RecordView(ctx context.Context, slug, visitor string) error {
	return s.record(ctx, slug, visitor, repository.CounterViews)
}

// RecordStart 记录开始填写
func (s *PublicService) RecordStart(ctx context.Context, slug, visitor string) error {
	return s.record(ctx, slug, visitor, repository.CounterStarts)
}

func (s *PublicService) record(ctx context.Context, slug, visitor, column string) error {
	form, err := s.findBySlug(ctx, slug)
	if err != nil {
		return err
	}

	if visitor != "" {
		first, err := s.limiter.Once(ctx, fmt.Sprintf("%s:%s:%s", column, form.ID, visitor), s.cfg.ViewDedupWindow)
		if err != nil {
			// redis 故障时照常计数
			s.logger.Warn("Counter dedup failed", zap.String("form_id", form.ID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	if err := s.forms.Increment(ctx, form.ID, column); err != nil {
		return fmt.Errorf("increment %s: %w", column, notFound(err, ErrFormNotFound))
	}
	return nil
}

// SubmitRequest 提交回答请求
type SubmitRequest struct {
	Answers  map[string]interface{} `json:"answers" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
	Password string                 `json:"password"`
}

// Submit 提交回答，返回回答ID
func (s *PublicService) Submit(ctx context.Context, slug string, req *SubmitRequest) (*entity.Response, error) {
	form, err := s.findBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !form.IsActive {
		return nil, ErrFormInactive
	}
	if form.Expired(s.now()) {
		return nil, ErrFormExpired
	}
	if !checkPassword(form, req.Password) {
		return nil, ErrInvalidPassword
	}

	schema := form.Schema.Data()
	answers, err := runner.ValidateAnswers(schema, req.Answers)
	if err != nil {
		return nil, err
	}

	var uploadIDs []string
	for _, field := range schema.Fields {
		if field.Type != entity.FieldFileUpload {
			continue
		}
		if id, ok := answers[field.ID].(string); ok {
			uploadIDs = append(uploadIDs, id)
		}
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	resp := &entity.Response{
		ID:          generateID(),
		FormID:      form.ID,
		Answers:     datatypes.JSONMap(answers),
		Metadata:    metadata,
		SubmittedAt: s.now(),
	}
	if err := s.responses.Submit(ctx, resp, uploadIDs); err != nil {
		return nil, fmt.Errorf("submit response: %w", err)
	}

	s.logger.Info("Response submitted", zap.String("form_id", form.ID), zap.String("response_id", resp.ID))
	s.hub.PublishResponse(form.OwnerID, form.ID, resp.ID, "created")
	s.notifyAsync(ctx, form, resp)
	return resp, nil
}

// notifyAsync 后台发送新回答通知，不阻塞提交
func (s *PublicService) notifyAsync(ctx context.Context, form *entity.Form, resp *entity.Response) {
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifySubmission(bgCtx, form, resp); err != nil {
			s.logger.Warn("Submission notification failed", zap.String("form_id", form.ID), zap.Error(err))
		}
	}()
}

// WaitNotifications 等待进行中的通知发送完成
func (s *PublicService) WaitNotifications() {
	s.notifying.Wait()
}
