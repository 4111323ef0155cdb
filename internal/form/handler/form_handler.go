package handler

import (
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/gin-gonic/gin"
)

// FormHandler 表单管理
type FormHandler struct {
	svc *service.FormService
}

func NewFormHandler(svc *service.FormService) *FormHandler {
	return &FormHandler{svc: svc}
}

// List GET /forms?search=
func (h *FormHandler) List(c *gin.Context) {
	forms, err := h.svc.ListMine(c.Request.Context(), GetUserID(c), c.Query("search"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": forms})
}

// Create POST /forms
func (h *FormHandler) Create(c *gin.Context) {
	var req service.CreateFormRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	form, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, gin.H{"form_id": form.ID, "slug": form.Slug, "form": form})
}

// Get GET /forms/:id
func (h *FormHandler) Get(c *gin.Context) {
	form, err := h.svc.Get(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, form)
}

// Update PATCH /forms/:id
func (h *FormHandler) Update(c *gin.Context) {
	var req service.UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	form, err := h.svc.Update(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, form)
}

// Delete DELETE /forms/:id
func (h *FormHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), GetUserID(c), c.Param("id")); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// AIHandler AI 生成
type AIHandler struct {
	svc *service.AIService
}

func NewAIHandler(svc *service.AIService) *AIHandler {
	return &AIHandler{svc: svc}
}

// Generate POST /forms/:id/ai/generate
func (h *AIHandler) Generate(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	result, err := h.svc.Generate(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}
