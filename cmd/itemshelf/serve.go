package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/itemshelf/internal/config"
	"github.com/vbonduro/itemshelf/internal/db"
	"github.com/vbonduro/itemshelf/internal/imagestore/local"
	"github.com/vbonduro/itemshelf/internal/logging"
	"github.com/vbonduro/itemshelf/internal/service"
	"github.com/vbonduro/itemshelf/internal/store"
	"github.com/vbonduro/itemshelf/internal/web"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	match, err := store.ParseMatchMode(cfg.CategoryMatch)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	images, err := local.NewLocalImageStore(cfg.ImageDir, cfg.DefaultImage)
	if err != nil {
		logger.Error("failed to initialize image store", "error", err)
		return err
	}

	itemService := service.NewItemService(
		database,
		store.NewCategoryStore(database, match),
		store.NewItemStore(database),
		images,
		logger,
	)
	srv := web.NewServer(itemService, cfg.FrontURL, cfg.MaxUploadBytes, logger).HTTPServer(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.ListenAddr,
			"db_path", cfg.DBPath,
			"image_dir", cfg.ImageDir,
			"category_match", cfg.CategoryMatch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
