package handler

import (
	"net/http"

	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/gin-gonic/gin"
)

// PublicHandler 公开表单（无需登录）
type PublicHandler struct {
	svc    *service.PublicService
	upload *service.UploadService
}

func NewPublicHandler(svc *service.PublicService, upload *service.UploadService) *PublicHandler {
	return &PublicHandler{svc: svc, upload: upload}
}

// Get GET /public/forms/:slug
func (h *PublicHandler) Get(c *gin.Context) {
	view, err := h.svc.GetBySlug(c.Request.Context(), c.Param("slug"), formPassword(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, view)
}

type unlockRequest struct {
	Password string `json:"password" binding:"required"`
}

// Unlock POST /public/forms/:slug/unlock
func (h *PublicHandler) Unlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Password is required")
		return
	}
	view, err := h.svc.Unlock(c.Request.Context(), c.Param("slug"), req.Password)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, view)
}

// View POST /public/forms/:slug/view
func (h *PublicHandler) View(c *gin.Context) {
	if err := h.svc.RecordView(c.Request.Context(), c.Param("slug"), visitorID(c)); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// Start POST /public/forms/:slug/start
func (h *PublicHandler) Start(c *gin.Context) {
	if err := h.svc.RecordStart(c.Request.Context(), c.Param("slug"), visitorID(c)); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// Submit POST /public/forms/:slug/responses
func (h *PublicHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if req.Password == "" {
		req.Password = formPassword(c)
	}
	if req.Metadata == nil {
		req.Metadata = map[string]interface{}{}
	}
	if _, ok := req.Metadata["user_agent"]; !ok {
		req.Metadata["user_agent"] = c.Request.UserAgent()
	}
	req.Metadata["ip"] = c.ClientIP()

	resp, err := h.svc.Submit(c.Request.Context(), c.Param("slug"), &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, gin.H{"response_id": resp.ID})
}

// Upload POST /public/forms/:slug/uploads (multipart: field_id, file)
func (h *PublicHandler) Upload(c *gin.Context) {
	// 预留 1MB 给表单其余字段
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxSize()+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "No file uploaded")
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		InternalError(c, "Failed to read uploaded file: "+err.Error())
		return
	}
	defer src.Close()

	password := c.PostForm("password")
	if password == "" {
		password = formPassword(c)
	}

	upload, err := h.upload.Upload(c.Request.Context(), c.Param("slug"), service.UploadInput{
		FieldID:     c.PostForm("field_id"),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Reader:      src,
		Password:    password,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, gin.H{
		"upload_id": upload.ID,
		"file_name": upload.FileName,
		"file_size": upload.FileSize,
	})
}
