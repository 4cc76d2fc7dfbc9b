package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigilarium/internal/config"
	"vigilarium/internal/delivery"
	"vigilarium/internal/handler"
	"vigilarium/internal/probe"
	"vigilarium/internal/sensor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Vigilarium sensor...")

	cfg, cfgPath, err := config.LoadSensor()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgPath != "" {
		log.Printf("Config loaded: %s", cfgPath)
	} else {
		log.Println("No config file found, using defaults")
	}
	if cfg.ClientID == "" {
		log.Fatal("client_id is required; set it in the sensor config")
	}

	deltas := cfg.Scan.Deltas()

	activeProbe := probe.NewActiveProbe(probe.ActiveConfig{
		CIDR:           cfg.Scan.CIDR,
		DiscoveryPorts: cfg.Scan.DiscoveryPorts,
		Timeout:        cfg.Scan.ProbeTimeout.Duration(),
		MaxConcurrent:  cfg.Scan.MaxConcurrent,
		Deltas:         deltas,
	})
	nmapProbe := probe.NewNmapProbe(probe.NmapConfig{
		CIDR:   cfg.Scan.CIDR,
		Deltas: deltas,
	})
	passiveProbe := probe.NewPassiveProbe(probe.PassiveConfig{
		Window: cfg.Scan.PassiveWindow.Duration(),
		Deltas: deltas,
	})

	fast := []probe.Source{activeProbe}
	full := []probe.Source{activeProbe, nmapProbe, passiveProbe}
	if cfg.Scan.Gateway != "" {
		gatewayProbe := probe.NewGatewayProbe(probe.GatewayConfig{
			Gateway:   cfg.Scan.Gateway,
			Community: cfg.Scan.SNMPCommunity,
			Timeout:   cfg.Scan.ProbeTimeout.Duration(),
			Deltas:    deltas,
		})
		fast = append(fast, gatewayProbe)
		full = append(full, gatewayProbe)
	}

	spool := delivery.NewSpool(cfg.Orchestrator.SpoolPath)
	client := delivery.NewClient(delivery.Config{
		BaseURL:  cfg.Orchestrator.URL,
		ClientID: cfg.ClientID,
		APIKey:   cfg.Orchestrator.APIKey,
		Timeout:  cfg.Orchestrator.Timeout.Duration(),
	}, spool)

	s := sensor.New(fast, full, []probe.Source{passiveProbe}, client,
		cfg.Schedule.FastInterval.Duration(),
		cfg.Schedule.FullInterval.Duration(),
		log.Default())

	mux := http.NewServeMux()
	s.Routes(mux)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler.Chain(mux, handler.Recover, handler.Logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go s.Run(runCtx)

	go func() {
		log.Printf("Trigger API listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down sensor...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Sensor stopped")
}
