package handler

import (
	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterRoutes 注册 /api/v1 路由
func RegisterRoutes(r *gin.Engine, h *Handlers, limiter middleware.Allower, cfg *config.Config, logger *zap.Logger) {
	api := r.Group("/api/v1")

	submitLimit := middleware.RateLimit(limiter, "public_submit", cfg.Form.SubmitRateLimit, cfg.Form.SubmitRateEvery, logger)

	// 公开接口
	api.GET("/templates", h.Template.List)
	api.GET("/templates/:key", h.Template.Get)

	public := api.Group("/public/forms/:slug")
	{
		public.GET("", h.Public.Get)
		public.POST("/unlock", h.Public.Unlock)
		public.POST("/view", h.Public.View)
		public.POST("/start", h.Public.Start)
		public.POST("/responses", submitLimit, h.Public.Submit)
		public.POST("/uploads", submitLimit, h.Public.Upload)
	}

	// 需要登录
	authorized := api.Group("")
	authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		authorized.GET("/users/me", h.User.Me)
		authorized.PUT("/users/me", h.User.Sync)

		authorized.GET("/dashboard/overview", h.Stats.Overview)

		forms := authorized.Group("/forms")
		{
			forms.GET("", h.Form.List)
			forms.POST("", h.Form.Create)
			forms.GET("/:id", h.Form.Get)
			forms.PATCH("/:id", h.Form.Update)
			forms.DELETE("/:id", h.Form.Delete)

			forms.POST("/:id/ai/generate", h.AI.Generate)

			forms.GET("/:id/responses", h.Response.List)
			forms.GET("/:id/responses/:rid", h.Response.Get)
			forms.DELETE("/:id/responses/:rid", h.Response.Delete)

			forms.GET("/:id/stats", h.Stats.Stats)
			forms.GET("/:id/summary", h.Stats.Summary)
			forms.GET("/:id/export", h.Stats.Export)

			forms.GET("/:id/uploads/:uid/download", h.Upload.Download)
		}

		authorized.GET("/sse/events", h.SSE.Stream)
	}
}
