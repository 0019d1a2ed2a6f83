package config

import (
	"strings"

	"github.com/iliyamo/flight-seat-reservation/internal/service"
)

// LoadEngineOptions reads the admission and reassignment tuning knobs.
// Unset variables keep service.DefaultOptions.
func LoadEngineOptions() service.Options {
	d := service.DefaultOptions()
	return service.Options{
		DuplicatePolicy:     service.DuplicatePolicy(strings.ToLower(envStr("WAITLIST_DUPLICATE_POLICY", string(d.DuplicatePolicy)))),
		RejectionPolicy:     service.RejectionPolicy(strings.ToLower(envStr("ENGINE_REJECTION_POLICY", string(d.RejectionPolicy)))),
		ConflictRetries:     envInt("ENGINE_CONFLICT_RETRIES", d.ConflictRetries),
		ClassFallback:       envBool("ENGINE_CLASS_FALLBACK", d.ClassFallback),
		GatewayTimeout:      envDur("ENGINE_GATEWAY_TIMEOUT", d.GatewayTimeout),
		TransientRetries:    envInt("ENGINE_TRANSIENT_RETRIES", d.TransientRetries),
		RetryBackoff:        envDur("ENGINE_RETRY_BACKOFF", d.RetryBackoff),
		ReassignConcurrency: envInt("ENGINE_REASSIGN_CONCURRENCY", d.ReassignConcurrency),
	}
}
