package router

import (
	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/handler"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(engine *logic.Engine, credits *gateway.CreditLedger, cfg *config.Config) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(metricsMiddleware())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "project-escrow-service",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty, every /api/v1 request will be rejected")
	}

	// API版本组
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(cfg.Auth))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		v1.Use(newRateLimiter(cfg.RateLimit).middleware())
	}
	{
		projectHandler := handler.NewProjectHandler(engine)
		deliveryHandler := handler.NewDeliveryHandler(engine)
		projects := v1.Group("/projects")
		{
			projects.POST("", projectHandler.CreateProject)
			projects.GET("", projectHandler.GetProjects)
			projects.GET("/:id", projectHandler.GetProject)
			projects.GET("/:id/events", projectHandler.GetProjectEvents)
			projects.GET("/:id/refunds", projectHandler.GetProjectRefunds)
			projects.POST("/:id/bids", projectHandler.PlaceBid)
			projects.POST("/:id/close-bidding", projectHandler.CloseBidding)
			projects.POST("/:id/purchase", projectHandler.ConfirmPurchase)

			projects.POST("/:id/delivery/submit", deliveryHandler.Submit)
			projects.POST("/:id/delivery/approve", deliveryHandler.Approve)
			projects.POST("/:id/delivery/request-changes", deliveryHandler.RequestChanges)
			projects.POST("/:id/delivery/dispute", deliveryHandler.OpenDispute)
		}

		disputeHandler := handler.NewDisputeHandler(engine)
		disputes := v1.Group("/disputes")
		{
			disputes.GET("", disputeHandler.ListOpen)
			disputes.GET("/:id", disputeHandler.GetDispute)
			disputes.POST("/:id/resolve", disputeHandler.Resolve)
		}
		v1.POST("/refunds/:id/retry", disputeHandler.RetryRefund)

		payoutHandler := handler.NewPayoutHandler(engine, credits)
		payouts := v1.Group("/payouts")
		{
			payouts.GET("/:id", payoutHandler.GetPayout)
			payouts.POST("/:id/processing", payoutHandler.MarkProcessing)
			payouts.POST("/:id/complete", payoutHandler.Complete)
			payouts.POST("/:id/fail", payoutHandler.Fail)
			payouts.POST("/:id/retry", payoutHandler.Retry)
			payouts.POST("/:id/cancel", payoutHandler.Cancel)
		}

		developers := v1.Group("/developers")
		{
			developers.PUT("/me/payout-profile", payoutHandler.SetPayoutProfile)
			developers.GET("/me/payout-profile", payoutHandler.GetPayoutProfile)
			developers.GET("/me/payouts", payoutHandler.ListMyPayouts)
			developers.POST("/:id/credits", payoutHandler.GrantCredits)
		}

		v1.GET("/stats", projectHandler.GetStats)
	}

	return r
}
