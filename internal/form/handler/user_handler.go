package handler

import (
	"net/http"

	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/gin-gonic/gin"
)

// UserHandler 当前用户
type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Me GET /users/me
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.svc.Me(c.Request.Context(), GetUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, user)
}

// Sync PUT /users/me
func (h *UserHandler) Sync(c *gin.Context) {
	var req service.UpsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	user, err := h.svc.Upsert(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, user)
}

// TemplateHandler 表单模板
type TemplateHandler struct {
	svc *service.TemplateService
}

func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

// List GET /templates
func (h *TemplateHandler) List(c *gin.Context) {
	Success(c, gin.H{"items": h.svc.List()})
}

// Get GET /templates/:key
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.svc.Get(c.Param("key"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, tpl)
}

// UploadHandler 上传文件下载（表单所有者）
type UploadHandler struct {
	svc *service.UploadService
}

func NewUploadHandler(svc *service.UploadService) *UploadHandler {
	return &UploadHandler{svc: svc}
}

// Download GET /forms/:id/uploads/:uid/download
func (h *UploadHandler) Download(c *gin.Context) {
	body, upload, err := h.svc.Open(c.Request.Context(), GetUserID(c), c.Param("id"), c.Param("uid"))
	if err != nil {
		HandleError(c, err)
		return
	}
	defer body.Close()

	contentType := upload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, upload.FileSize, contentType, body, map[string]string{
		"Content-Disposition": attachment(upload.FileName),
	})
}
