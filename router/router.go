// Package router wires the HTTP surface: commit submission, queries, and
// the health/metrics endpoints every teacher-derived service exposes,
// grouped under the same auth/public split the teacher's router used.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/forbearing/tol/blob"
	"github.com/forbearing/tol/commit"
	"github.com/forbearing/tol/config"
	"github.com/forbearing/tol/controller"
	"github.com/forbearing/tol/link"
	"github.com/forbearing/tol/middleware"
	"github.com/forbearing/tol/schema"
	"github.com/forbearing/tol/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	root *gin.Engine
	auth *gin.RouterGroup
	pub  *gin.RouterGroup

	server *http.Server
)

// Init builds the gin engine and route tree against the given engine/store/
// registry/records/links/blobs, the same dependency set controller.New
// expects.
func Init(log *zap.Logger, engine *commit.Engine, store *storage.Adapter, registry *schema.Registry, records *commit.Store, links *link.Store, blobs *blob.Manager) error {
	gin.SetMode(gin.ReleaseMode)
	root = gin.New()

	root.Use(
		middleware.Logger(log),
		middleware.Recovery(log),
	)

	root.GET("/metrics", gin.WrapH(promhttp.Handler()))
	root.GET("/-/healthz", controller.Healthz)

	ctl := controller.New(engine, store, registry, records, links, blobs)

	base := root.Group("/api")
	auth = base.Group("")
	pub = base.Group("")

	auth.Use(middleware.CommonMiddlewares...)
	auth.Use(middleware.AuthMiddlewares...)
	if config.App.Middleware.EnableJwtAuth {
		auth.Use(middleware.JwtAuth())
	}
	if config.App.Middleware.EnableAuthz {
		auth.Use(middleware.Authz())
	}
	pub.Use(middleware.CommonMiddlewares...)

	auth.POST("/commit", ctl.Submit)
	auth.POST("/query", ctl.Find)
	auth.POST("/subscribe", ctl.Subscribe)
	auth.DELETE("/subscribe/:id", ctl.Unsubscribe)
	auth.GET("/updates", ctl.Updates)
	auth.GET("/updates/stream", ctl.StreamUpdates)
	auth.POST("/blobs", ctl.UploadBlob)
	auth.GET("/blobs/:id", ctl.DownloadBlob)
	auth.POST("/logout", controller.Logout)

	return nil
}

// Run starts the HTTP server and blocks until it stops.
func Run() error {
	log := zap.S()
	log.Infow("backend server started", "addr", config.App.Server.Addr)
	for _, r := range root.Routes() {
		log.Debugw("", "method", r.Method, "path", r.Path)
	}

	server = &http.Server{
		Addr:           config.App.Server.Addr,
		Handler:        root,
		ReadTimeout:    config.App.Server.ReadTimeout,
		WriteTimeout:   config.App.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorw("failed to start server", "err", err)
		return err
	}
	return nil
}

func Auth() *gin.RouterGroup { return auth }
func Pub() *gin.RouterGroup  { return pub }

// Stop gracefully shuts down the HTTP server, waiting up to 30s for
// in-flight requests to drain.
func Stop() {
	if server == nil {
		return
	}
	zap.S().Infow("backend server shutdown initiated")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.S().Errorw("backend server shutdown failed", "err", err)
	} else {
		zap.S().Infow("backend server shutdown completed")
	}
	server = nil
}
