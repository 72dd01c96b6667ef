package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"nipi/internal/capture"
	"nipi/internal/config"
	"nipi/internal/export"
	"nipi/internal/factory"
	"nipi/internal/pipeline"
	"nipi/internal/sink"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: nipi-replay [-config path] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapPath := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	src, err := capture.NewFileSource(pcapPath, cfg.Capture.FrameBuffer)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	log.Printf("Reading packets from '%s'...", pcapPath)

	out := sink.New(cfg.Sink.Capacity)
	pipe, err := pipeline.New(cfg, src, out, pipeline.Options{Replay: true})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	writers, err := factory.Create(cfg.Writers)
	if err != nil {
		log.Fatalf("Failed to create writers: %v", err)
	}

	exporter := export.New(out, export.Options{Writers: writers})
	exporter.Start()
	pipe.Start()

	pipe.Wait()
	exporter.Stop()

	status := pipe.Status()
	report, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render report: %v", err)
	}
	fmt.Println(string(report))
	log.Println("Replay complete.")
}
