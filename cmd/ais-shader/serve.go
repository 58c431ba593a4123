package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/SiggyF/ais-shader/internal/api"
	"github.com/SiggyF/ais-shader/internal/cache"
	"github.com/SiggyF/ais-shader/internal/data/pngstore"
	"github.com/SiggyF/ais-shader/internal/data/zarr"
	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/render"
	"github.com/SiggyF/ais-shader/internal/scheduler"
	"github.com/SiggyF/ais-shader/internal/service"
)

var (
	optServeRunDir string
	optPort        int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tiles of a run directory over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runDir := cfg.Server.RunDir
		if cmd.Flags().Changed("run-dir") {
			runDir = optServeRunDir
		}
		if runDir == "" {
			return errors.New("no run directory: set server.run_dir or pass --run-dir")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = optPort
		}

		ramp, err := cfg.Colormap.Build()
		if err != nil {
			return err
		}

		grids, err := zarr.NewStore(zarr.Config{
			Root:       filepath.Join(runDir, scheduler.ZarrDir),
			CacheTiles: cfg.Cache.GridTiles,
		})
		if err != nil {
			return fmt.Errorf("failed to open grid store: %w", err)
		}
		defer grids.Close()

		var images *pngstore.Store
		if _, err := os.Stat(filepath.Join(runDir, scheduler.PNGDir)); err == nil {
			images, err = pngstore.New(filepath.Join(runDir, scheduler.PNGDir))
			if err != nil {
				return err
			}
		}

		var runs *ledger.Store
		if _, err := os.Stat(filepath.Join(runDir, scheduler.LedgerFile)); err == nil {
			runs, err = ledger.NewStore(filepath.Join(runDir, scheduler.LedgerFile))
			if err != nil {
				return err
			}
			defer runs.Close()
		}

		// Initialize cache manager
		cacheManager, err := cache.NewManager(cache.Config{
			TileCacheSizeMB: cfg.Cache.TileSizeMB,
			TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
			QueryCacheSize:  1000,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer cacheManager.Close()

		tileService := service.NewTileService(service.TileServiceConfig{
			Grids:  grids,
			Images: images,
			Cache:  cacheManager,
			Renderer: render.NewTileRenderer(render.Config{
				TileSize: cfg.Visualization.TileSize,
				LogScale: cfg.Colormap.UseLogScale(),
				Colormap: ramp,
			}),
			Colormap: ramp,
			LogScale: cfg.Colormap.UseLogScale(),
			TileSize: cfg.Visualization.TileSize,
			Scale:    scaleConfig(cfg),
		})
		if meta, err := scheduler.ReadMetadata(runDir); err == nil {
			for z, v := range meta.Scales {
				tileService.SetScale(z, v)
			}
			slog.Info("loaded run metadata", "run_id", meta.RunID, "scales", len(meta.Scales))
		}

		router := api.NewRouter(api.RouterConfig{
			Service:     tileService,
			Cache:       cacheManager,
			Ledger:      runs,
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		// Create HTTP server
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		ctx, stop := interruptContext()
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			slog.Info("server listening", "addr", fmt.Sprintf("http://localhost:%d", port), "run_dir", runDir)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		slog.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server forced to shutdown", "err", err)
		}

		slog.Info("server stopped")
		return nil
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&optServeRunDir, "run-dir", "", "Run directory to serve")
	flags.IntVar(&optPort, "port", 8080, "HTTP port")
	rootCmd.AddCommand(serveCmd)
}
