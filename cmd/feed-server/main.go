package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mangafeed/internal/cachestore"
	"mangafeed/internal/catalog"
	"mangafeed/internal/feed"
	"mangafeed/internal/library"
	"mangafeed/internal/push"
	"mangafeed/pkg/database"
	"mangafeed/pkg/logger"
	"mangafeed/pkg/metrics"
	"mangafeed/pkg/utils"
)

func main() {
	cfg, err := utils.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zl, cleanup, err := logger.New(cfg.Feed.IsProd)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = cleanup() }()
	sugar := zl.Sugar()

	metrics.MustRegister()

	dbCfg := database.Config{Path: cfg.DB.Path}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		sugar.Fatalf("db migrate failed: %v", err)
	}

	if cfg.Feed.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	store := cachestore.New(sugar.Named("cache"))
	client := catalog.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, sugar.Named("catalog"))
	repo := library.NewRepo(db)
	hub := push.NewHub()

	assembler := feed.NewAssembler(store, client, repo, hub, sugar.Named("feed"), cfg.Feed.PreferredLang)
	defer assembler.Close()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": dbCfg.Resolve()})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"db_error": err.Error(),
				"clients":  hub.Stats().Clients,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"db":      "ok",
			"clients": hub.Stats().Clients,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	feedHandler := feed.NewHandler(assembler, hub, sugar.Named("feed"))
	feedHandler.RegisterRoutes(router.Group("/feed"))

	libHandler := library.NewHandler(repo, store)
	libHandler.RegisterRoutes(router)

	catHandler := catalog.NewHandler(client, store, cfg.Feed.PreferredLang)
	catHandler.RegisterRoutes(router.Group("/catalog"))

	// Kick off the first pipeline run before serving.
	assembler.Refresh()

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infof("feed server listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infof("shutdown signal received: %s", sig)
	case err := <-errCh:
		sugar.Errorf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("http shutdown error: %v", err)
	}
	sugar.Info("server stopped")
}
