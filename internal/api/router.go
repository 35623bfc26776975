package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"festival-sync-backend/config"
	"festival-sync-backend/internal/hub"
	"festival-sync-backend/internal/mw"
	"festival-sync-backend/internal/notify"
	"festival-sync-backend/internal/push"
	"festival-sync-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, webpushOptions *webpush.Options, h *hub.Hub, d *push.Service, n *notify.Notifier) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, h, d, n)

	rps := cfg.Server.RateLimitPerSec
	if rps <= 0 {
		rps = 10
	}
	rateLimiter := mw.RateLimiter(rate.Limit(rps), 5, cfg.Server.RequestIPHeader)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	// Health probe: cheap existence check, no side effects, outside the
	// rate limiter so a client probe burst never reads as a server outage.
	healthz := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.HEAD("/healthz", healthz)
	r.GET("/healthz", healthz)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/ws", handler.ServeWS(cfg.Hub.WriteTimeout))

		api.PUT("/push/targets", handler.PutTarget)
		api.DELETE("/push/targets", handler.DeleteTarget)
		api.GET("/push/targets", handler.GetTarget)
		api.GET("/push/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		api.POST("/events", handler.PublishEvent)

		api.GET("/admin/connections", handler.ListConnections)
		api.POST("/admin/push/cleanup", handler.CleanupTargets)
	}

	return r
}
