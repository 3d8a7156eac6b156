// Package retry computes deterministic backoff schedules and retries
// idempotent tasks with them.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identify one attempt of one task. The jitter is derived
// from them, so a rerun with the same inputs waits exactly as long.
type BackoffParams struct {
	Scope        string
	Task         string
	AttemptIndex int
}

type BackoffPolicy struct {
	BaseMs      int64 `yaml:"base_ms"`
	MaxMs       int64 `yaml:"max_ms"`
	MaxJitterMs int64 `yaml:"max_jitter_ms"`
	MaxAttempts int   `yaml:"max_attempts"`
}

// DefaultPolicy allows three attempts starting at 100ms.
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseMs:      100,
		MaxMs:       5000,
		MaxJitterMs: 50,
		MaxAttempts: 3,
	}
}

// ComputeBackoff returns the delay before a specific attempt using deterministic jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	// delay = base * 2^attempt
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%s:%d", params.Scope, params.Task, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])

	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}
