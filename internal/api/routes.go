package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"immobilier/server/internal/auth"
	"immobilier/server/internal/metrics"
)

type RouteOptions struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics; the route is skipped when nil
	Gatherer prometheus.Gatherer
	// AuthLimiter throttles /auth; nil disables it
	AuthLimiter *RateLimiter
}

func SetupRoutes(router *gin.Engine, handler *Handler, opts RouteOptions) {
	router.Use(CORS(opts.CORSOrigins))
	router.Use(Observe(opts.Metrics, handler.logger))

	router.GET("/health", handler.Health)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := router.Group("/auth")
	if opts.AuthLimiter != nil {
		authGroup.Use(opts.AuthLimiter.Middleware())
	}
	{
		authGroup.POST("/register", handler.Register)
		authGroup.POST("/login", handler.Login)
	}

	// Commune reference data is public
	router.GET("/communes", handler.ListCommunes)
	router.GET("/communes/:code", handler.GetCommune)

	requireAuth := auth.RequireAuth(handler.tokens, handler.db)

	protected := router.Group("/")
	protected.Use(requireAuth)
	{
		protected.GET("/users/me", handler.Me)
		protected.PUT("/users/me", handler.UpdateMe)
		protected.POST("/users/me/change-password", handler.ChangePassword)

		protected.GET("/transactions", handler.ListTransactions)
		protected.GET("/transactions/investment-opportunities", handler.InvestmentOpportunities)
		protected.GET("/statistics/department/:code", handler.DepartmentStatistics)

		protected.GET("/market/analysis", handler.MarketAnalysis)
		protected.GET("/market/geojson", handler.MarketGeoJSON)
		protected.POST("/market/generate", handler.GenerateAnalysis)

		protected.GET("/jobs/:id", handler.JobStatus)
	}

	users := router.Group("/users")
	users.Use(requireAuth, auth.RequireAdmin())
	{
		users.GET("", handler.ListUsers)
		users.POST("", handler.CreateUser)
		users.GET("/:id", handler.GetUser)
		users.PUT("/:id", handler.UpdateUser)
		users.DELETE("/:id", handler.DeleteUser)
		users.POST("/:id/deactivate", handler.DeactivateUser)
	}

	data := router.Group("/data")
	data.Use(requireAuth, auth.RequireAdmin())
	{
		data.POST("/refresh", handler.RefreshData)
	}
}
