package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mordhub/internal/core/auth"
	"mordhub/internal/core/server"
	"mordhub/internal/transport/http/handler"
	mdw "mordhub/internal/transport/http/middleware"
)

type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	MaxConcurrent  int64
	RateLimitRPS   float64
	RateLimitBurst int
	Registry       *prometheus.Registry

	// AuthRateLimitRPS bounds sign-in attempts per client IP; zero disables it.
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int

	// CORSOrigins for /api; empty allows any origin.
	CORSOrigins []string
}

// NewWebEngine builds the site: pages, sign-in, the JSON API and
// operational endpoints.
func NewWebEngine(l *zap.Logger, h *handler.Handler, sessions *auth.Sessions, users mdw.UserLookup, o Options) (*gin.Engine, error) {
	r := server.NewRouter(l)

	metrics, err := mdw.NewHTTPMetrics(o.Registry)
	if err != nil {
		return nil, err
	}

	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(rate.Limit(o.RateLimitRPS), o.RateLimitBurst),
		mdw.ConcurrencyLimit(o.MaxConcurrent),
		mdw.MaxBodyBytes(o.MaxBodyBytes),
		mdw.Timeout(o.RequestTimeout),
		metrics.Handler(),
		mdw.AccessLog(l, "/health", "/metrics"),
	)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Registry, promhttp.HandlerOpts{})))
	r.GET("/static/*filepath", h.Static)

	site := r.Group("")
	site.Use(mdw.Session(sessions, users, l))
	{
		site.GET("/", h.Index)
		site.GET("/about", h.About)

		authGroup := site.Group("/auth")
		if o.AuthRateLimitRPS > 0 {
			authGroup.Use(mdw.RateLimitPerIP(rate.Limit(o.AuthRateLimitRPS), o.AuthRateLimitBurst, 10*time.Minute))
		}
		authGroup.GET("/login", h.Login)
		authGroup.GET("/logout", h.Logout)
		authGroup.GET("/callback", h.Callback)

		site.GET("/users/:steam_id", h.User)

		site.GET("/loadouts", h.LoadoutList)
		site.GET("/loadouts/create", h.CreateForm)
		site.POST("/loadouts/create", h.Create)
		site.GET("/loadouts/:id", h.LoadoutSingle)
		site.POST("/loadouts/:id/like", h.Like)
		site.POST("/loadouts/:id/unlike", h.Unlike)

		site.GET("/guides", h.GuideList)
		site.GET("/guides/:slug", h.GuideSingle)
	}

	api := r.Group("/api")
	api.Use(corsFor(o.CORSOrigins))
	{
		api.GET("/loadouts", h.APILoadouts)
		api.OPTIONS("/loadouts", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	r.NoRoute(h.NoRoute)
	r.NoMethod(h.NoMethod)
	return r, nil
}

func corsFor(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
