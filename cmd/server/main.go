// Package main is the entry point for the ili server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ili-toolbox/ili-server/internal/api"
	"github.com/ili-toolbox/ili-server/internal/cache"
	"github.com/ili-toolbox/ili-server/internal/config"
	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/internal/task"
	"github.com/ili-toolbox/ili-server/internal/workspace"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting ili server on port %d", cfg.Server.Port)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB:  cfg.Cache.FrameSizeMB,
		FrameTTL:          time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		SnapshotCacheSize: cfg.Cache.SnapshotEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	cm, err := colormap.Lookup(cfg.Render.DefaultColormap)
	if err != nil {
		log.Fatalf("Invalid default colormap: %v", err)
	}

	// Initialize scene collaborators
	scene2d := scene.NewScene2D(scene.Config{
		SpotRadius:      cfg.Render.SpotRadius,
		GlobalSpotScale: cfg.Render.GlobalSpotScale,
		SpotBorder:      cfg.Render.SpotBorder,
	}, cm)
	scene3d := scene.NewScene3D(cm)

	// Route configured task kinds to external worker processes
	workers := make(map[task.Kind]string, len(cfg.Tasks.Workers))
	for kind, command := range cfg.Tasks.Workers {
		workers[task.Kind(kind)] = command
		log.Printf("Task %q runs as isolated worker: %s", kind, command)
	}

	// Initialize the workspace controller
	bus := event.NewBus()
	ws, err := workspace.New(workspace.Config{
		Bus:            bus,
		Scene2D:        scene2d,
		Scene3D:        scene3d,
		ScaleID:        cfg.Mapping.Scale,
		ColormapID:     cfg.Render.DefaultColormap,
		SpotRadius:     cfg.Render.SpotRadius,
		WorkerCommands: workers,
	})
	if err != nil {
		log.Fatalf("Failed to initialize workspace: %v", err)
	}
	ws.SetHotspotQuantile(cfg.Mapping.HotspotQuantile)

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Workspace:   ws,
		Bus:         bus,
		Scene2D:     scene2d,
		Cache:       cacheManager,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
