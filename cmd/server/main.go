package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigilarium/internal/classify"
	"vigilarium/internal/config"
	"vigilarium/internal/domain"
	"vigilarium/internal/fusion"
	"vigilarium/internal/handler"
	"vigilarium/internal/lifecycle"
	"vigilarium/internal/repository/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Vigilarium orchestrator...")

	cfg, cfgPath, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgPath != "" {
		log.Printf("Config loaded: %s", cfgPath)
	} else {
		log.Println("No config file found, using defaults")
	}

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()
	log.Printf("Database opened: %s", cfg.Database.Path)

	// Known tenants are declared in config and ensured at startup.
	ctx := context.Background()
	for _, client := range cfg.Clients {
		if err := repo.EnsureClient(ctx, &domain.Client{ID: client.ID, Name: client.Name}); err != nil {
			log.Fatalf("Failed to ensure client %s: %v", client.ID, err)
		}
		log.Printf("Client ready: %s", client.ID)
	}

	manager := lifecycle.NewManager(repo, lifecycle.Config{
		PromoteAfterSeen: cfg.Lifecycle.PromoteAfterSeen,
		StalenessWindow:  cfg.Lifecycle.StalenessWindow.Duration(),
		SweepInterval:    cfg.Lifecycle.SweepInterval.Duration(),
		RiskyPorts:       cfg.Lifecycle.RiskyPorts,
	}, log.Default())

	engine := fusion.NewEngine(repo, classify.New(), manager, cfg.Fusion.Weights(), log.Default())

	// Staleness sweeper runs for the life of the process.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go manager.Run(sweepCtx)

	networkHandler := handler.NewNetworkHandler(repo, engine, cfg.Fusion.EvidenceLimit)

	mux := http.NewServeMux()
	networkHandler.Routes(mux)

	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
		handler.APIKey(cfg.APIKey),
	)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	sweepCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
