package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/tara/internal/config"
	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/internal/resilience"
)

// BuildRecognizer creates the primary recognizer and every fallback from the
// registry and chains them behind per-backend circuit breakers. A fallback
// that fails to construct is skipped with a warning; a primary that fails is
// an error.
func BuildRecognizer(cfg config.STTConfig, reg *config.Registry, m *observe.Metrics) (*resilience.RecognizerFallback, error) {
	primary, err := reg.CreateSTT(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Primary.Name, err)
	}

	cb := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
	}
	fb := resilience.NewRecognizerFallback(primary, cfg.Primary.Name, cb, m)
	for _, entry := range cfg.Fallbacks {
		r, err := reg.CreateSTT(entry)
		if err != nil {
			slog.Warn("skipping stt fallback", "provider", entry.Name, "err", err)
			continue
		}
		fb.AddFallback(entry.Name, r)
	}
	slog.Info("speech recognition ready", "backends", fb.Names())
	return fb, nil
}
