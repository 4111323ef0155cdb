package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// ErrPasswordNotSet 开启密码保护前必须设置密码
var ErrPasswordNotSet = errors.New("set a password before enabling password protection")

const defaultFormTitle = "Untitled Form"

// FormService 表单服务（所有者操作）
type FormService struct {
	repo       *repository.FormRepository
	store      ObjectStore
	uploadRepo *repository.UploadRepository
	templates  *TemplateService
	hub        *sse.Hub
	cfg        config.FormConfig
	logger     *zap.Logger
}

// NewFormService 创建表单服务
func NewFormService(repo *repository.FormRepository, store ObjectStore, uploadRepo *repository.UploadRepository, templates *TemplateService, hub *sse.Hub, cfg config.FormConfig, logger *zap.Logger) *FormService {
	if cfg.SlugAttempts <= 0 {
		cfg.SlugAttempts = 5
	}
	return &FormService{
		repo:       repo,
		store:      store,
		uploadRepo: uploadRepo,
		templates:  templates,
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreateFormRequest 创建表单请求
type CreateFormRequest struct {
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	Schema             *entity.FormSchema     `json:"schema"`
	AIPromptContext    string                 `json:"ai_prompt_context"`
	GenerationSettings map[string]interface{} `json:"generation_settings"`
	Template           string                 `json:"template"`
}

// Create 创建表单，生成唯一 slug
func (s *FormService) Create(ctx context.Context, ownerID string, req *CreateFormRequest) (*entity.Form, error) {
	schema := entity.FormSchema{Fields: []entity.FormField{}}
	if req.Template != "" {
		tpl, err := s.templates.Get(req.Template)
		if err != nil {
			return nil, err
		}
		schema = tpl.Schema
	}
	if req.Schema != nil {
		schema = *req.Schema
	}
	schema.Normalize()
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	title := firstNonEmpty(req.Title, schema.Title, defaultFormTitle)
	description := firstNonEmpty(req.Description, schema.Description)
	if schema.Title == "" {
		schema.Title = title
	}

	slug, err := s.uniqueSlug(ctx, title)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	form := &entity.Form{
		ID:               generateID(),
		OwnerID:          ownerID,
		Title:            title,
		Description:      description,
		Slug:             slug,
		Schema:           datatypes.NewJSONType(schema),
		AIPromptContext:  req.AIPromptContext,
		IsActive:         true,
		RequiresPassword: false,
		Settings:         datatypes.JSONMap{},
		ChatHistory:      datatypes.JSONSlice[entity.ChatMessage]{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.GenerationSettings != nil {
		form.GenerationSettings = datatypes.JSONMap(req.GenerationSettings)
	}

	if err := s.repo.Create(ctx, form); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}

	s.logger.Info("Form created", zap.String("form_id", form.ID), zap.String("owner_id", ownerID), zap.String("slug", slug))
	s.hub.PublishFormUpdate(ownerID, form.ID, "created")
	return form, nil
}

func (s *FormService) uniqueSlug(ctx context.Context, title string) (string, error) {
	for i := 0; i < s.cfg.SlugAttempts; i++ {
		slug := newSlug(title)
		exists, err := s.repo.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return slug, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique slug after %d attempts", s.cfg.SlugAttempts)
}

// Get 获取表单并校验所有权
func (s *FormService) Get(ctx context.Context, ownerID, id string) (*entity.Form, error) {
	form, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrFormNotFound)
	}
	if form.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return form, nil
}

// ListMine 当前用户的表单
func (s *FormService) ListMine(ctx context.Context, ownerID, search string) ([]entity.Form, error) {
	forms, err := s.repo.FindByOwner(ctx, ownerID, strings.TrimSpace(search))
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return forms, nil
}

// UpdateFormRequest 局部更新请求，nil 字段保持不变
type UpdateFormRequest struct {
	Title              *string                `json:"title"`
	Description        *string                `json:"description"`
	Schema             *entity.FormSchema     `json:"schema"`
	IsActive           *bool                  `json:"is_active"`
	RequiresPassword   *bool                  `json:"requires_password"`
	Password           *string                `json:"password"`
	ExpiresAt          *time.Time             `json:"expires_at"`
	ClearExpiresAt     bool                   `json:"clear_expires_at"`
	Settings           map[string]interface{} `json:"settings"`
	GenerationSettings map[string]interface{} `json:"generation_settings"`
	ChatHistory        []entity.ChatMessage   `json:"chat_history"`
	Slug               *string                `json:"slug"`
}

// Update 局部更新表单
func (s *FormService) Update(ctx context.Context, ownerID, id string, req *UpdateFormRequest) (*entity.Form, error) {
	form, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Schema != nil {
		schema := *req.Schema
		schema.Normalize()
		if err := schema.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		updates["schema"] = datatypes.NewJSONType(schema)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	hasPassword := form.PasswordHash != ""
	if req.Password != nil {
		if *req.Password == "" {
			updates["password_hash"] = ""
			updates["requires_password"] = false
			hasPassword = false
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			updates["password_hash"] = string(hash)
			updates["requires_password"] = true
			hasPassword = true
		}
	}
	if req.RequiresPassword != nil {
		if *req.RequiresPassword && !hasPassword {
			return nil, ErrPasswordNotSet
		}
		updates["requires_password"] = *req.RequiresPassword
	}

	if req.ClearExpiresAt {
		updates["expires_at"] = nil
	} else if req.ExpiresAt != nil {
		updates["expires_at"] = *req.ExpiresAt
	}
	if req.Settings != nil {
		updates["settings"] = datatypes.JSONMap(req.Settings)
	}
	if req.GenerationSettings != nil {
		updates["generation_settings"] = datatypes.JSONMap(req.GenerationSettings)
	}
	if req.ChatHistory != nil {
		updates["chat_history"] = datatypes.JSONSlice[entity.ChatMessage](req.ChatHistory)
	}
	if slug, changed := normalizedSlug(req.Slug, form.Slug); changed {
		if !ValidSlug(slug) {
			return nil, ErrInvalidSlug
		}
		exists, err := s.repo.SlugExists(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("check slug: %w", err)
		}
		if exists {
			return nil, ErrSlugTaken
		}
		updates["slug"] = slug
	}

	if len(updates) > 0 {
		if err := s.repo.Updates(ctx, id, updates); err != nil {
			return nil, fmt.Errorf("update form: %w", notFound(err, ErrFormNotFound))
		}
		s.hub.PublishFormUpdate(ownerID, id, "updated")
	}
	return s.repo.FindByID(ctx, id)
}

// normalizedSlug 返回小写去空白后的 slug，与当前 slug 相同视为未修改
func normalizedSlug(requested *string, current string) (string, bool) {
	if requested == nil {
		return "", false
	}
	slug := strings.ToLower(strings.TrimSpace(*requested))
	return slug, slug != current
}

// Delete 删除表单及其回答和上传文件
func (s *FormService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	uploads, err := s.uploadRepo.FindByForm(ctx, id)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete form: %w", err)
	}

	if s.store != nil {
		for _, u := range uploads {
			if err := s.store.Remove(ctx, u.StorageKey); err != nil {
				s.logger.Warn("Remove upload object failed", zap.String("key", u.StorageKey), zap.Error(err))
			}
		}
	}

	s.logger.Info("Form deleted", zap.String("form_id", id), zap.Int("uploads", len(uploads)))
	s.hub.PublishFormUpdate(ownerID, id, "deleted")
	return nil
}

// ApplyGeneration 保存 AI 生成结果与对话记录
func (s *FormService) ApplyGeneration(ctx context.Context, form *entity.Form, schema *entity.FormSchema, history []entity.ChatMessage, generation map[string]interface{}) error {
	updates := map[string]interface{}{
		"chat_history": datatypes.JSONSlice[entity.ChatMessage](history),
	}
	if schema != nil {
		updates["schema"] = datatypes.NewJSONType(*schema)
		if schema.Title != "" {
			updates["title"] = schema.Title
		}
		if schema.Description != "" {
			updates["description"] = schema.Description
		}
		updates["generation_settings"] = datatypes.JSONMap(generation)
	}
	if err := s.repo.Updates(ctx, form.ID, updates); err != nil {
		return fmt.Errorf("save generation: %w", notFound(err, ErrFormNotFound))
	}
	s.hub.PublishFormUpdate(form.OwnerID, form.ID, "updated")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
