package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"livemap.onebusaway.org/internal/app"
	"livemap.onebusaway.org/internal/config"
	"livemap.onebusaway.org/internal/connection"
	"livemap.onebusaway.org/internal/httpclient"
	"livemap.onebusaway.org/internal/report"
)

const version = "1.0.0"

// configRefreshInterval is how often a remote --config-url is refetched.
const configRefreshInterval = time.Minute

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		port       = flag.Int("port", 4000, "API server port")
		env        = flag.String("env", "development", "Environment (development|staging|production)")
		configFile = flag.String("config-file", "", "Path to a local YAML configuration file")
		configURL  = flag.String("config-url", "", "URL to a remote YAML configuration file")
	)
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configAuthUser := os.Getenv("CONFIG_AUTH_USER")
	configAuthPass := os.Getenv("CONFIG_AUTH_PASS")

	if err := config.ValidateConfigFlags(configFile, configURL); err != nil {
		fmt.Println("Error:", err)
		flag.Usage()
		os.Exit(1)
	}

	report.SetupSentry(*env, version)
	defer report.FlushSentry()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := httpclient.NewPooledClient()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg *config.Config
		err error
	)
	switch {
	case *configFile != "":
		cfg, err = config.LoadConfigFromFile(*configFile)
	case *configURL != "":
		cfg, err = config.LoadConfigFromURL(ctx, client, *configURL, configAuthUser, configAuthPass, 3)
	default:
		fmt.Println("Error: No configuration provided. Use --config-file or --config-url.")
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	feedURL := connection.FeedURL(cfg.Feed.Host, cfg.Feed.Port, cfg.Feed.Secure)
	report.ConfigureScope(*env, version, feedURL)

	application, err := app.New(ctx, cfg, logger, client, *env, version)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		report.ReportError(err, sentry.LevelFatal)
		report.FlushSentry()
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     application.Routes(ctx),
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /v1/stream holds its connection open and sets
		// per-frame write deadlines itself.
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return application.Engine.Run(gctx)
	})

	if application.CatalogService != nil {
		g.Go(func() error {
			if err := application.CatalogService.Load(gctx); err != nil {
				logger.Error("Failed to load route catalog; routes are labelled by id until the next refresh", "error", err)
			}
			application.CatalogService.Refresh(gctx, cfg.GTFS.RefreshInterval)
			return nil
		})
	}

	if *configURL != "" {
		g.Go(func() error {
			application.ConfigService.RefreshConfig(gctx, *configURL, configAuthUser, configAuthPass, configRefreshInterval, 3)
			return nil
		})
	}

	g.Go(func() error {
		application.StartMetricsCollection(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "env", *env, "feed", feedURL)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cerr := application.Close(); cerr != nil {
		logger.Error("Failed to close selection store", "error", cerr)
	}
	if err != nil {
		logger.Error(err.Error())
		report.ReportError(err, sentry.LevelFatal)
		report.FlushSentry()
		os.Exit(1)
	}
	logger.Info("stopped")
}
