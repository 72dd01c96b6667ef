// Package factory builds output writers from configuration through a
// registry, so new writer types plug in without touching the callers.
package factory

import (
	"fmt"
	"log"

	"nipi/internal/config"
	"nipi/internal/model"
	"nipi/internal/storage"
)

// WriterFactory creates one writer from its definition.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

func init() {
	RegisterWriter("gob", func(def config.WriterDef) (model.Writer, error) {
		return storage.NewGobWriter(def.Gob.RootPath)
	})
	RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return storage.NewClickHouseWriter(def.ClickHouse)
	})
}

// Create instantiates every enabled writer in the config.
func Create(defs []config.WriterDef) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		w, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		log.Printf("Created writer of type '%s'", def.Type)
		writers = append(writers, w)
	}
	return writers, nil
}
