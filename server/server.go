// Package server assembles the HTTP engine: one controller per configured
// collection plus the health, metrics and status routes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stevemurr/collection-crud/config"
	"github.com/stevemurr/collection-crud/crud"
	"github.com/stevemurr/collection-crud/handler"
	"github.com/stevemurr/collection-crud/store"
)

const (
	readinessTimeout = 2 * time.Second
	shutdownTimeout  = 10 * time.Second
)

type Server struct {
	cfg         *config.Config
	store       store.Store
	engine      *gin.Engine
	controllers []*handler.Controller
	log         *zap.Logger
}

// New wires the routes. The caller owns s and closes it after Run returns.
func New(cfg *config.Config, s store.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.L()
	}
	srv := &Server{
		cfg:    cfg,
		store:  s,
		engine: gin.New(),
		log:    logger,
	}

	srv.engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	srv.engine.Use(ginzap.RecoveryWithZap(logger, true))
	srv.engine.Use(handler.RequestID(), handler.CORS(cfg.AllowedOrigins))

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("store", srv.pingStore)
	srv.engine.GET("/live", gin.WrapH(health))
	srv.engine.GET("/ready", gin.WrapH(health))
	srv.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv.engine.GET("/", srv.status)

	for _, name := range cfg.Collections {
		c, err := handler.New(s, name, srv.engine.Group("/"+name), crud.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if cfg.ParamsKey != "" {
			c.ParamsKey = cfg.ParamsKey
		}
		c.SetDefaultRoutes()
		srv.controllers = append(srv.controllers, c)
	}

	return srv, nil
}

func (srv *Server) Handler() http.Handler {
	return srv.engine
}

// Controllers returns the mounted controllers in configuration order.
func (srv *Server) Controllers() []*handler.Controller {
	return srv.controllers
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              srv.cfg.Addr(),
		Handler:           srv.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("Server starting",
			zap.String("addr", httpServer.Addr),
			zap.String("backend", srv.cfg.Backend),
			zap.Strings("collections", srv.cfg.Collections),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	srv.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (srv *Server) pingStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()
	return srv.store.Ping(ctx)
}

// status lists the mounted collections and those holding data.
func (srv *Server) status(c *gin.Context) {
	stored, err := srv.store.ListCollections(c.Request.Context())
	if err != nil {
		srv.log.Error("Failed to list collections", zap.Error(err))
		c.JSON(handler.StatusFor(err), gin.H{"detail": err.Error()})
		return
	}
	if stored == nil {
		stored = []string{}
	}
	mounted := make([]string, 0, len(srv.controllers))
	for _, ctrl := range srv.controllers {
		mounted = append(mounted, ctrl.Service().Collection())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"backend":     srv.cfg.Backend,
		"collections": mounted,
		"stored":      stored,
	})
}
