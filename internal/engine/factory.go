package engine

import (
	"fmt"

	"github.com/cklxx/tunehub/internal/config"
)

// New constructs the configured engine implementation.
// Called once at server startup.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPEngine(cfg), nil
	case "simulated":
		return NewSimulatedEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q: must be one of http, simulated", cfg.Mode)
	}
}
