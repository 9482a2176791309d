package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lenspay/internal/admin"
	"lenspay/internal/auth"
	"lenspay/internal/config"
	"lenspay/internal/webhook"
)

type Server struct {
	router *gin.Engine
	http   *http.Server
	config *config.Config
}

type Deps struct {
	Webhook *webhook.Handler
	Admin   *admin.Handler
}

func New(cfg *config.Config, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())

	// Webhook ingest gets its own rate limit; the provider retries on 429
	// so shedding load here is safe.
	router.POST("/webhooks/:provider",
		RateLimitMiddleware(cfg.WebhookRPS, cfg.WebhookBurst),
		deps.Webhook.HandleDelivery,
	)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	adminGroup := router.Group("/admin")
	adminGroup.Use(authMiddleware, auth.RequireRole("admin"))
	{
		adminGroup.POST("/payouts", deps.Admin.HandlePayoutAction)
		adminGroup.GET("/wallets/:walletID/balance", deps.Admin.GetWalletBalance)
		adminGroup.GET("/settings", deps.Admin.GetSettings)
		adminGroup.PUT("/settings/minimums", deps.Admin.SetPayoutMinimum)
	}

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())

	return &Server{
		router: router,
		config: cfg,
		http: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: router,
		},
	}
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
