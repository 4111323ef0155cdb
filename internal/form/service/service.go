package service

import (
	"errors"
	"fmt"

	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/llm"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 业务错误
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("you do not have access to this form")
	ErrSlugTaken          = errors.New("slug is already taken")
	ErrInvalidSlug        = errors.New("slug may only contain lowercase letters, digits and dashes")
	ErrInvalidPassword    = errors.New("incorrect password")
	ErrFormInactive       = errors.New("this form is no longer accepting responses")
	ErrFormExpired        = errors.New("this form has expired")
	ErrInvalidSchema      = errors.New("invalid form schema")
	ErrAPIKeyRequired     = errors.New("API Key is required. Please configure it in the settings.")
	ErrRateLimited        = errors.New("too many requests, please slow down")
	ErrStorageUnavailable = errors.New("file storage is not configured")
	ErrInvalidUpload      = errors.New("field does not accept file uploads")
	ErrFileTooLarge       = errors.New("file is too large")
	ErrTemplateNotFound   = errors.New("template not found")
)

// 各资源的未找到错误，均满足 errors.Is(err, ErrNotFound)
var (
	ErrFormNotFound     = fmt.Errorf("form %w", ErrNotFound)
	ErrResponseNotFound = fmt.Errorf("response %w", ErrNotFound)
	ErrUploadNotFound   = fmt.Errorf("upload %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
)

// Services 服务集合
type Services struct {
	User     *UserService
	Form     *FormService
	Public   *PublicService
	Response *ResponseService
	Stats    *StatsService
	Export   *ExportService
	AI       *AIService
	Upload   *UploadService
	Template *TemplateService
	Limiter  *Limiter
}

// Deps 服务依赖
type Deps struct {
	Repos     *repository.Repositories
	Redis     *redis.Client
	Store     ObjectStore
	Hub       *sse.Hub
	Notifier  Notifier
	Completer llm.Completer
	Config    *config.Config
	Logger    *zap.Logger
}

// NewServices 创建服务集合
func NewServices(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Hub == nil {
		d.Hub = sse.NewHub(d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}

	templates := NewTemplateService()
	limiter := NewLimiter(d.Redis)

	formSvc := NewFormService(d.Repos.Form, d.Store, d.Repos.Upload, templates, d.Hub, d.Config.Form, d.Logger)

	return &Services{
		User:     NewUserService(d.Repos.User),
		Form:     formSvc,
		Public:   NewPublicService(d.Repos, limiter, d.Hub, d.Notifier, d.Config, d.Logger),
		Response: NewResponseService(d.Repos.Response, formSvc, d.Hub),
		Stats:    NewStatsService(d.Repos, formSvc),
		Export:   NewExportService(d.Repos.Response, formSvc),
		AI:       NewAIService(d.Completer, formSvc, limiter, d.Config.LLM, d.Logger),
		Upload:   NewUploadService(d.Repos, d.Store, d.Config.Form.MaxUploadSize, formSvc),
		Template: templates,
		Limiter:  limiter,
	}
}

func generateID() string {
	return uuid.New().String()[:32]
}

// notFound 将仓库层的未找到转换为对应资源的业务错误
func notFound(err, target error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return target
	}
	return err
}
