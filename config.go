package weft

import (
	"time"

	"github.com/weftflow/weft/internal/adapters/engine"
)

// StorageConfig selects the durable backend. An empty Path (or InMemory)
// keeps everything in process memory, which suits tests and throwaway
// runs.
type StorageConfig struct {
	Path     string
	InMemory bool
}

// StateConfig tunes the execution state store.
type StateConfig struct {
	// CacheSize bounds the read-through LRU in front of durable storage.
	CacheSize int
}

// EngineConfig tunes the scheduler.
type EngineConfig struct {
	MaxConcurrentNodes     int
	DefaultNodeTimeout     time.Duration
	DefaultWorkflowTimeout time.Duration
}

// Config assembles one engine instance.
type Config struct {
	Storage StorageConfig
	State   StateConfig
	Engine  EngineConfig
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{InMemory: true},
		State:   StateConfig{CacheSize: 1024},
		Engine: EngineConfig{
			MaxConcurrentNodes: 64,
		},
	}
}

func (c *Config) engineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentNodes:     c.Engine.MaxConcurrentNodes,
		DefaultNodeTimeout:     c.Engine.DefaultNodeTimeout,
		DefaultWorkflowTimeout: c.Engine.DefaultWorkflowTimeout,
	}
}
