package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/charrlodin/otter-form/internal/form/llm"
	"github.com/charrlodin/otter-form/internal/form/runner"
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	User     *UserHandler
	Form     *FormHandler
	AI       *AIHandler
	Public   *PublicHandler
	Response *ResponseHandler
	Stats    *StatsHandler
	Upload   *UploadHandler
	Template *TemplateHandler
	SSE      *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		User:     NewUserHandler(svc.User),
		Form:     NewFormHandler(svc.Form),
		AI:       NewAIHandler(svc.AI),
		Public:   NewPublicHandler(svc.Public, svc.Upload),
		Response: NewResponseHandler(svc.Response),
		Stats:    NewStatsHandler(svc.Stats, svc.Export),
		Upload:   NewUploadHandler(svc.Upload),
		Template: NewTemplateHandler(svc.Template),
		SSE:      NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination 计算分页信息
func NewPagination(page, pageSize int, total int64) *Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: totalPages}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 资源冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// TooManyRequests 限流响应
func TooManyRequests(c *gin.Context, message string) {
	Error(c, 42900, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// ServiceUnavailable 依赖服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, 50300, message)
}

// llmErrorCodes 上游 AI 错误到响应码
var llmErrorCodes = map[llm.Kind]int{
	llm.KindAuth:                40120,
	llm.KindInsufficientCredits: 40200,
	llm.KindRateLimited:         42910,
	llm.KindModelNotFound:       40410,
	llm.KindBadRequest:          40010,
	llm.KindUnavailable:         50300,
	llm.KindTimeout:             50400,
	llm.KindInvalidResponse:     50200,
}

// HandleError 业务错误转换为响应
func HandleError(c *gin.Context, err error) {
	var verr *runner.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, Response{
			Code:    40001,
			Message: verr.Error(),
			Data:    gin.H{"fields": verr.Fields},
		})
		return
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		code, ok := llmErrorCodes[llmErr.Kind]
		if !ok {
			code = 50200
		}
		Error(c, code, llmErr.UserMessage)
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		NotFound(c, notFoundMessage(err))
	case errors.Is(err, service.ErrTemplateNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, service.ErrSlugTaken):
		Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidPassword):
		Error(c, 40110, err.Error())
	case errors.Is(err, service.ErrFormInactive):
		Error(c, 41000, err.Error())
	case errors.Is(err, service.ErrFormExpired):
		Error(c, 41001, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		Error(c, 41300, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		TooManyRequests(c, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		ServiceUnavailable(c, err.Error())
	case errors.Is(err, service.ErrGenerationFailed):
		InternalError(c, service.ErrGenerationFailed.Error())
	case errors.Is(err, service.ErrInvalidSlug),
		errors.Is(err, service.ErrInvalidSchema),
		errors.Is(err, service.ErrPasswordNotSet),
		errors.Is(err, service.ErrInvalidUpload),
		errors.Is(err, service.ErrAPIKeyRequired):
		BadRequest(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// notFoundMessage 返回具体资源的未找到信息
func notFoundMessage(err error) string {
	for _, target := range []error{service.ErrFormNotFound, service.ErrResponseNotFound, service.ErrUploadNotFound, service.ErrUserNotFound} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "resource not found"
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// visitorID 访客标识：优先使用前端传入的 X-Visitor-ID，否则由 IP 和 UA 生成
func visitorID(c *gin.Context) string {
	if id := c.GetHeader("X-Visitor-ID"); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(c.ClientIP() + "|" + c.Request.UserAgent()))
	return hex.EncodeToString(sum[:8])
}

// formPassword 表单密码：header 优先，其次 query
func formPassword(c *gin.Context) string {
	if pw := c.GetHeader("X-Form-Password"); pw != "" {
		return pw
	}
	return c.Query("password")
}
