package admission

import (
	"fmt"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// New creates an admission controller based on configuration.
func New(cfg domain.AdmissionConfig) (domain.Admitter, error) {
	limits := Limits{
		Burst:           cfg.Burst,
		PerMinute:       cfg.PerMinute,
		PerHour:         cfg.PerHour,
		BurstRetryAfter: cfg.BurstRetryAfter,
	}

	switch cfg.Backend {
	case "", "memory":
		return NewController(limits), nil

	case "redis":
		return NewRedisController(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, limits)

	default:
		return nil, fmt.Errorf("unsupported admission backend: %s", cfg.Backend)
	}
}
