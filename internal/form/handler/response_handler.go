package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/gin-gonic/gin"
)

// ResponseHandler 回答管理
type ResponseHandler struct {
	svc *service.ResponseService
}

func NewResponseHandler(svc *service.ResponseService) *ResponseHandler {
	return &ResponseHandler{svc: svc}
}

// List GET /forms/:id/responses
func (h *ResponseHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), GetUserID(c), c.Param("id"), page, pageSize)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, ListResponse{
		Items:      items,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Get GET /forms/:id/responses/:rid
func (h *ResponseHandler) Get(c *gin.Context) {
	resp, err := h.svc.Get(c.Request.Context(), GetUserID(c), c.Param("id"), c.Param("rid"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, resp)
}

// Delete DELETE /forms/:id/responses/:rid
func (h *ResponseHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), GetUserID(c), c.Param("id"), c.Param("rid")); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// StatsHandler 统计与导出
type StatsHandler struct {
	stats  *service.StatsService
	export *service.ExportService
}

func NewStatsHandler(stats *service.StatsService, export *service.ExportService) *StatsHandler {
	return &StatsHandler{stats: stats, export: export}
}

// Stats GET /forms/:id/stats
func (h *StatsHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, stats)
}

// Summary GET /forms/:id/summary
func (h *StatsHandler) Summary(c *gin.Context) {
	summary, err := h.stats.Summary(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, summary)
}

// Overview GET /dashboard/overview
func (h *StatsHandler) Overview(c *gin.Context) {
	overview, err := h.stats.Overview(c.Request.Context(), GetUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, overview)
}

// Export GET /forms/:id/export?format=csv|xlsx&encoding=utf-8|gbk
func (h *StatsHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()
	userID := GetUserID(c)
	formID := c.Param("id")

	switch c.DefaultQuery("format", "csv") {
	case "csv":
		encoding := c.DefaultQuery("encoding", service.EncodingUTF8)
		if encoding != service.EncodingUTF8 && encoding != service.EncodingGBK {
			BadRequest(c, "Unsupported encoding: "+encoding)
			return
		}
		data, filename, err := h.export.ExportCSV(ctx, userID, formID, encoding)
		if err != nil {
			HandleError(c, err)
			return
		}
		c.Header("Content-Disposition", attachment(filename))
		c.Data(http.StatusOK, "text/csv; charset="+encoding, data)

	case "xlsx":
		f, filename, err := h.export.ExportXLSX(ctx, userID, formID)
		if err != nil {
			HandleError(c, err)
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", attachment(filename))
		c.Header("Content-Transfer-Encoding", "binary")
		if err := f.Write(c.Writer); err != nil {
			InternalError(c, "Failed to write file: "+err.Error())
		}

	default:
		BadRequest(c, "format must be csv or xlsx")
	}
}

func attachment(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, filename, url.PathEscape(filename))
}
