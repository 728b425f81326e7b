package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fileforge/internal/api"
	"fileforge/internal/config"
	"fileforge/internal/convert"
	"fileforge/internal/metrics"
	"fileforge/internal/task"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	scheduler := buildScheduler(cfg)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	scheduler.SetBaseContext(baseCtx)
	scheduler.Store().StartSweeper(baseCtx)

	router := setupRouter()
	wireAPI(router, scheduler, cfg)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, scheduler, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestLogger())
	return r
}

func buildScheduler(cfg config.Config) *task.Scheduler {
	probe := convert.NewProbe(convert.ProbeOptions{
		TTL:            cfg.ProbeTTL.Std(),
		OfficeBinaries: cfg.Tools.Office,
		VectorBinaries: cfg.Tools.Vector,
	})

	workers := map[convert.Category]convert.Worker{
		convert.CategoryImage:  convert.NewImageWorker(),
		convert.CategoryDoc:    convert.NewOfficeWorker(probe, cfg.ConvertTimeout.Std()),
		convert.CategoryVector: convert.NewVectorWorker(probe, cfg.ConvertTimeout.Std()),
	}

	store := task.NewStore(task.Retention{
		Terminal:  cfg.Retention.Terminal.Std(),
		Abandoned: cfg.Retention.Abandoned.Std(),
		Sweep:     cfg.Retention.Sweep.Std(),
	})

	return task.NewScheduler(store, workers, task.Options{
		MaxConcurrent: cfg.MaxConcurrentConversions,
	})
}

func wireAPI(router *gin.Engine, scheduler *task.Scheduler, cfg config.Config) {
	apiHandler := api.NewAPI(scheduler, api.Options{PollMinInterval: cfg.PollMinInterval.Std()})
	apiHandler.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, scheduler *task.Scheduler, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if done := scheduler.WaitAll(ctx); !done {
		log.Warn().Msg("conversions did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
