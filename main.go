package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting Exchange Server",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := exchange.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	if err := db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database health check passed",
		slog.String("type", "db"),
		slog.Int("pool_conns", int(db.GetPool().Stat().TotalConns())))

	app := exchange.New(*cfg, version, commit)
	app.DB = db
	app.Setup()

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start exchange server", slog.Any("error", err))
		db.Close()
		os.Exit(-1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return app.Gateway.ListenAndServe()
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		app.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Exchange server exited with error", slog.Any("error", err))
		os.Exit(-1)
	}
}
