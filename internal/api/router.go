package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"emailagent/pkg/otel"
	"emailagent/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	classificationHandler *ClassificationHandler,
	statsHandler *StatsHandler,
	adminHandler *AdminHandler,
	health healthcheck.Handler,
	jwtSecret string,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	// Health endpoints
	r.GET("/live", gin.WrapF(health.LiveEndpoint))
	r.GET("/ready", gin.WrapF(health.ReadyEndpoint))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/classification/test", RequirePermission(rbac.PermissionTestClassification), classificationHandler.Test)
		auth.POST("/classification/reclassify", RequirePermission(rbac.PermissionReclassify), classificationHandler.Reclassify)
		auth.GET("/classification/rules", RequirePermission(rbac.PermissionReadRules), classificationHandler.ListRules)
		auth.GET("/classification/categories", classificationHandler.ListCategories)
		auth.GET("/stats/categories", RequirePermission(rbac.PermissionReadStats), statsHandler.Categories)
		auth.GET("/stats/performance", RequirePermission(rbac.PermissionReadStats), statsHandler.Performance)
		auth.GET("/stats/timeline", RequirePermission(rbac.PermissionReadStats), statsHandler.Timeline)
	}

	admin := auth.Group("/admin")
	admin.Use(RequirePermission(rbac.PermissionReplayOutbox))
	{
		admin.POST("/outbox/replay/:id", adminHandler.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", adminHandler.ReplayFailedEvents)
		admin.GET("/emails/:id/logs", adminHandler.EmailLogs)
	}

	return &Router{Engine: r}
}

// Run 启动 HTTP 服务，ctx 取消后优雅关闭
func (r *Router) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return Serve(ctx, srv)
}

// Serve 运行 srv 直到 ctx 结束
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
