package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignatzorin/talentflow-backend/internal/config"
	"github.com/ignatzorin/talentflow-backend/internal/http/handlers"
	"github.com/ignatzorin/talentflow-backend/internal/http/middleware"
	"github.com/ignatzorin/talentflow-backend/internal/service"
)

// SetupRouter собирает все маршруты HTTP API.
func SetupRouter(
	cfg *config.Config,
	engagementHandler *handlers.EngagementHandler,
	milestoneHandler *handlers.MilestoneHandler,
	matchHandler *handlers.MatchHandler,
	disputeHandler *handlers.DisputeHandler,
	verificationHandler *handlers.VerificationHandler,
	paymentHandler *handlers.PaymentHandler,
	webhookHandler *handlers.WebhookHandler,
	notificationHandler *handlers.NotificationHandler,
	auditHandler *handlers.AuditHandler,
	healthHandler *handlers.HealthHandler,
	wsHandler *handlers.WSHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Публичные маршруты
	api.GET("/ws", wsHandler.Handle)

	// Webhook платёжного шлюза: авторизация общим секретом, не JWT.
	// Ретраи шлюза идут пачками, поэтому свой rate limit.
	webhooks := api.Group("/webhooks")
	webhooks.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit*10, cfg.RateLimitPeriod))
	{
		webhooks.POST("/gateway", webhookHandler.HandleGatewayEvent)
	}

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.POST("/engagements", engagementHandler.Create)
		protected.GET("/engagements", engagementHandler.List)
		protected.GET("/engagements/:id", middleware.UUIDValidator("id"), engagementHandler.Get)
		protected.PUT("/engagements/:id/status", middleware.UUIDValidator("id"), engagementHandler.Transition)
		protected.PUT("/engagements/:id/status/force", middleware.UUIDValidator("id"), engagementHandler.ForceTransition)

		protected.POST("/engagements/:id/funding", middleware.UUIDValidator("id"), paymentHandler.RequestFunding)
		protected.GET("/engagements/:id/payments", middleware.UUIDValidator("id"), paymentHandler.List)

		protected.POST("/engagements/:id/milestones", middleware.UUIDValidator("id"), milestoneHandler.Create)
		protected.GET("/engagements/:id/milestones", middleware.UUIDValidator("id"), milestoneHandler.List)
		protected.POST("/milestones/:id/start", middleware.UUIDValidator("id"), milestoneHandler.Start)
		protected.POST("/milestones/:id/submit", middleware.UUIDValidator("id"), milestoneHandler.Submit)
		protected.POST("/milestones/:id/approve", middleware.UUIDValidator("id"), milestoneHandler.Approve)
		protected.POST("/milestones/:id/reject", middleware.UUIDValidator("id"), milestoneHandler.Reject)
		protected.POST("/milestones/:id/release", middleware.UUIDValidator("id"), milestoneHandler.Release)

		protected.POST("/engagements/:id/matching", middleware.UUIDValidator("id"), matchHandler.Run)
		protected.GET("/engagements/:id/matches", middleware.UUIDValidator("id"), matchHandler.List)
		protected.POST("/matches/:id/accept", middleware.UUIDValidator("id"), matchHandler.Accept)
		protected.POST("/matches/:id/reject", middleware.UUIDValidator("id"), matchHandler.Reject)

		protected.POST("/engagements/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Initiate)
		protected.GET("/engagements/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.ListByEngagement)
		protected.GET("/disputes", disputeHandler.ListOpen)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.Get)
		protected.POST("/disputes/:id/review", middleware.UUIDValidator("id"), disputeHandler.TakeUnderReview)
		protected.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)

		protected.POST("/verification/start", verificationHandler.Start)
		protected.GET("/verification/:id", middleware.UUIDValidator("id"), verificationHandler.Get)
		protected.POST("/verification/:id/identity", middleware.UUIDValidator("id"), verificationHandler.RecordIdentity)
		protected.POST("/verification/:id/english", middleware.UUIDValidator("id"), verificationHandler.RecordEnglish)
		protected.POST("/verification/:id/skills", middleware.UUIDValidator("id"), verificationHandler.RecordSkill)
		protected.POST("/verification/:id/complete", middleware.UUIDValidator("id"), verificationHandler.Complete)
		protected.POST("/verification/:id/override", middleware.UUIDValidator("id"), verificationHandler.Override)

		protected.GET("/engagements/:id/audit", middleware.UUIDValidator("id"), auditHandler.ListByEngagement)

		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	return r
}
