package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taxoai/internal/config"
	"taxoai/internal/server/handlers"
)

// Router 路由管理器
type Router struct {
	router   *gin.Engine
	handler  *handlers.Handler
	auth     config.AuthConfig
	gatherer prometheus.Gatherer
}

// NewRouter 创建路由管理器
func NewRouter(router *gin.Engine, handler *handlers.Handler, auth config.AuthConfig, gatherer prometheus.Gatherer) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Router{
		router:   router,
		handler:  handler,
		auth:     auth,
		gatherer: gatherer,
	}
}

// SetupRoutes 设置所有路由
func (r *Router) SetupRoutes() {
	h := r.handler
	edit := requireCapability(r.auth, CapabilityEditProducts)

	r.router.GET("/healthz", h.Health)
	r.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))

	// API v1 路由组
	api := r.router.Group("/api/v1", authenticate(r.auth))
	{
		products := api.Group("/products")
		{
			products.GET("", h.ListProducts)
			products.GET("/:id/analysis", h.GetAnalysis)
			products.POST("/:id/analyze", edit, h.AnalyzeProduct)
		}

		api.GET("/taxonomies/search", h.SearchTaxonomies)

		// 轮询会写回结果，同样需要编辑权限
		batches := api.Group("/batches", edit)
		{
			batches.POST("", h.SubmitBatch)
			batches.GET("/:job_id", h.PollBatch)
		}

		api.GET("/usage", h.GetUsage)
		api.POST("/hooks/product-saved", edit, h.ProductSaved)
	}
}
