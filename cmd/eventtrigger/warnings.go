package main

import (
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/config"
)

// logConfigWarnings reports valid but risky combinations at startup.
func logConfigWarnings(cfg config.Config, log zerolog.Logger) {
	if !cfg.ReconcileEnabled {
		log.Warn().Msg("RECONCILE_ENABLED=false: jobs are only restored at startup; drift between store and scheduler is never repaired")
	}

	if !cfg.MetricsEnabled {
		log.Info().Msg("METRICS_ENABLED=false: firing and retention metrics are not exported")
	}

	if cfg.RetentionHorizon < cfg.RetentionInterval {
		log.Warn().
			Dur("horizon", cfg.RetentionHorizon).
			Dur("interval", cfg.RetentionInterval).
			Msg("RETENTION_HORIZON is shorter than RETENTION_INTERVAL: logs can outlive the horizon by up to one interval")
	}

	if !cfg.DeliveryEnabled {
		return
	}
	if cfg.DeliverySecret == "" {
		log.Warn().Msg("DELIVERY_SECRET is empty: deliveries are sent unsigned")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Warn().Msg("CIRCUIT_BREAKER_THRESHOLD=0: failing endpoints are retried on every event")
	}
}
