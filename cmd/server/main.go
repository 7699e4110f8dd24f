package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fraud-detection-pipeline/internal/app"
	"fraud-detection-pipeline/internal/appcontext"
	handler "fraud-detection-pipeline/internal/handlers"
	"fraud-detection-pipeline/internal/notify"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/routes"
	"fraud-detection-pipeline/internal/services/loading"
	"fraud-detection-pipeline/internal/services/reporting"
	"fraud-detection-pipeline/internal/services/scoring"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile); err != nil {
		appcontext.LoggerFromContext(ctx).Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	a, ctx, err := app.New(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger
	cfg := a.Config

	db, err := a.DB()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := scoring.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	scorer, cleanup, err := a.Scorer(ctx, metrics)
	defer cleanup()
	if err != nil {
		return err
	}

	transactions := repository.NewTransactionRepository(db)
	reports := reporting.NewService(repository.NewPredictionRepository(db), notify.NewEmailSender(cfg.SMTP), reporting.Options{
		Location: cfg.ReportLocation,
	})

	ops := handler.NewOpsHandler(ctx, db, reports, cfg.ReportLocation)
	ops.Scorer = scorer
	ops.ModelName = cfg.ModelName
	ops.Loader = loading.NewService(transactions, ops.Runs, loading.Options{ChunkSize: cfg.ChunkSize})

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	routes.RegisterRoutes(r, ops, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scorer.Run(gctx)
	})
	g.Go(func() error {
		logger.InfoContext(ctx, "ops API listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
