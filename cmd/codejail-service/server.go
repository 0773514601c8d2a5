package main

import (
	"context"
	"net/http"
	"time"

	"capajail/internal/codejail/config"
	"capajail/internal/codejail/controller"
	"capajail/internal/codejail/darklaunch"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	commonmw "capajail/internal/common/http/middleware"
	"capajail/pkg/utils/logger"
	"capajail/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type serverDeps struct {
	jail     spec.Executor
	resolver *limits.Resolver
	policy   *safeexec.UnsafePolicy
	registry *prometheus.Registry
}

func buildRouter(appCfg *config.Settings, deps serverDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	if deps.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/")
	api.Use(commonmw.BearerAuthMiddleware(commonmw.BearerAuthConfig{
		Secret: appCfg.Auth.JWTSecret,
		Issuer: appCfg.Auth.JWTIssuer,
	}))
	controller.NewCodeExecController(deps.jail, deps.resolver, deps.policy, telemetry.SpanRecorder{}).Register(api)
	return router
}

func buildHTTPServer(appCfg *config.Settings, deps serverDeps) *http.Server {
	cfg := appCfg.Server
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      buildRouter(appCfg, deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// instrument records execution metrics around exec.
func instrument(exec spec.Executor, metrics *telemetry.Metrics) spec.Executor {
	return spec.ExecutorFunc(func(ctx context.Context, req spec.Request, globals map[string]any) error {
		start := time.Now()
		err := exec.Exec(ctx, req, globals)
		metrics.ObserveExecution(darklaunch.ArmLocal, darklaunch.Status(err), time.Since(start))
		return err
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
