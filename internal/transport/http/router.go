package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/name-pipeline/internal/config"
	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/service"
	"go.uber.org/zap"
)

// Deps are the services the router serves.
type Deps struct {
	Ingest  *service.IngestService
	Query   *service.QueryService
	Metrics *metrics.Collector
	// Breaker reports the publish circuit state on /healthz; optional.
	Breaker interface{ State() string }
}

func NewRouter(d Deps, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware(d.Metrics))
	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	RegisterHandlers(r, d.Ingest, d.Query)
	r.GET("/healthz", healthHandler(d.Breaker))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	return r
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Content-Type", "Accept", "Authorization"}
	if len(c.AllowOrigins) == 0 || (len(c.AllowOrigins) == 1 && c.AllowOrigins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowOrigins
	}
	return cc
}
