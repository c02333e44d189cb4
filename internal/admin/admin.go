package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/swiftwire/internal/observability"
	"github.com/danmuck/swiftwire/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const Version = "0.1.0"

// StatsSource is the listener view the admin API reports on.
type StatsSource interface {
	Stats() server.Stats
	Serving() bool
}

// Admin is the operator HTTP surface for one listener.
type Admin struct {
	ID      string
	Started time.Time

	src    StatsSource
	router *gin.Engine
	log    zerolog.Logger
}

// New builds the admin router. A non-empty corsOrigins list enables CORS for
// those origins.
func New(id string, src StatsSource, corsOrigins []string) *Admin {
	gin.SetMode(gin.ReleaseMode)
	logger := observability.ComponentLogger("admin")
	router := gin.New()
	router.Use(gin.Recovery(), observability.RequestObserver(id, logger))
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	a := &Admin{
		ID:      id,
		Started: time.Now(),
		src:     src,
		router:  router,
		log:     logger,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"node":    a.ID,
			"version": Version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.src != nil && a.src.Serving()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"node":    a.ID,
			"version": Version,
		})
	})

	a.router.GET("/stats", func(c *gin.Context) {
		if a.src == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listener not attached"})
			return
		}
		c.JSON(http.StatusOK, a.src.Stats())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve runs the admin API on addr until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin) ServeListener(ctx context.Context, ln net.Listener) error {
	observability.RegisterMetrics()
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
