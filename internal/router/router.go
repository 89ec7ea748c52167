// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/javajoker/serialkey-backend/internal/config"
	"github.com/javajoker/serialkey-backend/internal/handlers"
	"github.com/javajoker/serialkey-backend/internal/metrics"
	"github.com/javajoker/serialkey-backend/internal/middleware"
	"github.com/javajoker/serialkey-backend/internal/repository"
	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

// Router is the HTTP engine plus the background pieces it owns.
type Router struct {
	Engine   *gin.Engine
	Alerts   *services.AlertDispatcher
	limiters []*middleware.RateLimiter
}

// Close stops rate limiter cleanup and waits for in-flight alerts.
func (r *Router) Close() {
	for _, l := range r.limiters {
		l.Stop()
	}
	r.Alerts.Wait()
}

func Initialize(db *gorm.DB, cfg *config.Config, notifier services.Notifier, reg *prometheus.Registry) (*Router, error) {
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		return nil, err
	}

	// Initialize services
	alerts := services.NewAlertDispatcher(notifier, time.Duration(cfg.Alerting.Timeout)*time.Second, m)
	activationService := services.NewActivationService(repository.NewLicenseRepository(db), alerts, m)
	licenseService := services.NewLicenseService(db, alerts)
	productService := services.NewProductService(db)
	authService := services.NewAuthService(db, cfg)
	webhookService := services.NewWebhookService(db, cfg.Payment, alerts, m)

	// Initialize handlers
	licenseHandler := handlers.NewLicenseHandler(activationService)
	adminHandler := handlers.NewAdminHandler(licenseService)
	productHandler := handlers.NewProductHandler(productService)
	authHandler := handlers.NewAuthHandler(authService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	clientLimiter := middleware.PerMinute(cfg.RateLimit.ClientPerMinute, cfg.RateLimit.ClientBurst)
	authLimiter := middleware.PerMinute(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.I18nMiddleware())

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "healthy"}

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		c.JSON(status, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		licenses := v1.Group("/licenses")
		licenses.Use(clientLimiter.Middleware())
		{
			licenses.POST("/activate", licenseHandler.Activate)
			licenses.POST("/verify", licenseHandler.Verify)
		}

		auth := v1.Group("/auth")
		{
			auth.POST("/login", authLimiter.Middleware(), authHandler.Login)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/stripe", webhookHandler.Stripe)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired())
		admin.Use(middleware.AdminRequired())
		admin.Use(middleware.AuditLogMiddleware(db))
		{
			admin.POST("/licenses/issue", adminHandler.IssueLicenses)
			admin.GET("/licenses", adminHandler.ListLicenses)
			admin.GET("/licenses/statistics", adminHandler.GetStatistics)
			admin.GET("/licenses/:id", adminHandler.GetLicense)
			admin.PUT("/licenses/:id/revoke", adminHandler.RevokeLicense)
			admin.PUT("/licenses/:id/transfer", adminHandler.TransferLicense)

			admin.GET("/products", productHandler.GetProducts)
			admin.POST("/products", productHandler.CreateProduct)
			admin.GET("/products/:id", productHandler.GetProduct)
			admin.PUT("/products/:id", productHandler.UpdateProduct)
		}
	}

	return &Router{
		Engine:   r,
		Alerts:   alerts,
		limiters: []*middleware.RateLimiter{clientLimiter, authLimiter},
	}, nil
}
