package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nipi/internal/api"
	"nipi/internal/capture"
	"nipi/internal/config"
	"nipi/internal/export"
	"nipi/internal/factory"
	"nipi/internal/notification"
	"nipi/internal/pipeline"
	"nipi/internal/probe"
	"nipi/internal/sink"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting nipi-engine...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	src, err := capture.NewLiveSource(cfg.Capture, cfg.ReopenBackoff())
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}

	out := sink.New(cfg.Sink.Capacity)
	pipe, err := pipeline.New(cfg, src, out, pipeline.Options{})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	writers, err := factory.Create(cfg.Writers)
	if err != nil {
		log.Fatalf("Failed to create writers: %v", err)
	}

	opts := export.Options{Writers: writers}

	if cfg.NATS.Enabled {
		pub, err := probe.NewPublisher(cfg.NATS)
		if err != nil {
			log.Fatalf("Failed to create NATS publisher: %v", err)
		}
		opts.Publisher = pub
	}

	if cfg.SMTP.Host != "" {
		opts.Notifier = notification.NewEmailNotifier(cfg.SMTP)
		opts.MinSeverity = notification.MinSeverity(cfg.SMTP)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		cache := api.NewCache()
		opts.Observers = append(opts.Observers, cache.Observe)
		apiServer = api.NewServer(cfg.API.ListenAddr, cache, func() any {
			return pipe.Status()
		})
	}

	exporter := export.New(out, opts)
	exporter.Start()
	pipe.Start()
	if apiServer != nil {
		apiServer.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping pipeline...")
	pipe.Stop()
	exporter.Stop()
	if apiServer != nil {
		apiServer.Shutdown()
	}
	log.Println("Shutdown complete.")
}
