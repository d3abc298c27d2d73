package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lojinha/sms-dispatcher/internal/config"
	"github.com/lojinha/sms-dispatcher/internal/http/middleware"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, dbx *sqlx.DB, rds *redis.Client) *Server {
	recordStore := store.New(dbx)
	taskQueue := queue.New(rds, cfg.Queue.Prefix, cfg.Queue.Visibility)

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// forgot-password flow has no credentials yet
	e.POST("/v1/password-reset", issueResetTokenHandler(recordStore))
	e.POST("/v1/password-reset/confirm", confirmResetHandler(recordStore))

	// middlewares
	authMW := middleware.BasicAuth(recordStore)
	rlMW := middleware.RateLimit(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:acct:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/sms/send", sendSMSHandler(recordStore, taskQueue))
	v1.GET("/deliveries", listDeliveriesHandler(recordStore))
	v1.GET("/deliveries/latest", latestDeliveryHandler(recordStore))
	v1.GET("/accounts/:id", getAccountHandler(recordStore))

	admin := v1.Group("", middleware.AdminOnly())
	admin.POST("/accounts", createAccountHandler(recordStore))
	admin.DELETE("/accounts/:id", deleteAccountHandler(recordStore))
	admin.POST("/accounts/:id/credits", adjustCreditsHandler(recordStore))
	admin.GET("/accounts", listAccountsHandler(recordStore))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }
