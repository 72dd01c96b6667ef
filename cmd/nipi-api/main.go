// nipi-api serves the dashboard API detached from the capture engine: it
// follows the engine's NATS subjects to populate its cache and, when a
// ClickHouse writer is configured, answers history queries from storage.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"nipi/internal/api"
	"nipi/internal/config"
	"nipi/internal/model"
	"nipi/internal/probe"
	"nipi/internal/query"
)

type consumeStats struct {
	flows     atomic.Uint64
	snapshots atomic.Uint64
	events    atomic.Uint64
	decodeErr atomic.Uint64
	started   time.Time
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting nipi-api...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.NATS.Enabled {
		log.Fatal("nipi-api needs nats.enabled: it consumes the engine's event stream")
	}

	cache := api.NewCache()
	stats := &consumeStats{started: time.Now()}

	sub, err := probe.NewSubscriber(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to create NATS subscriber: %v", err)
	}
	err = sub.Start(probe.Handlers{
		OnFlow: func(data []byte) {
			var s model.FlowSummary
			if err := json.Unmarshal(data, &s); err != nil {
				stats.decodeErr.Add(1)
				return
			}
			cache.Observe(&s)
			stats.flows.Add(1)
		},
		OnSnapshot: func(data []byte) {
			var snap model.MetricSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				stats.decodeErr.Add(1)
				return
			}
			cache.Observe(&snap)
			stats.snapshots.Add(1)
		},
		OnSecurity: func(data []byte) {
			var ev model.SecurityEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				stats.decodeErr.Add(1)
				return
			}
			cache.Observe(&ev)
			stats.events.Add(1)
		},
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	server := api.NewServer(cfg.API.ListenAddr, cache, func() any {
		return map[string]any{
			"uptime_seconds": int(time.Since(stats.started).Seconds()),
			"flows":          stats.flows.Load(),
			"snapshots":      stats.snapshots.Load(),
			"events":         stats.events.Load(),
			"decode_errors":  stats.decodeErr.Load(),
		}
	})

	// History endpoints come alive when a ClickHouse writer is configured.
	for _, def := range cfg.Writers {
		if def.Enabled && def.Type == "clickhouse" {
			log.Println("Found enabled ClickHouse writer, enabling history endpoints.")
			querier, err := query.NewClickHouseQuerier(def.ClickHouse)
			if err != nil {
				log.Fatalf("Failed to create querier: %v", err)
			}
			server.WithHistory(querier)
			break
		}
	}

	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	server.Shutdown()
	log.Println("Shutdown complete.")
}
