package session

import (
	"fmt"

	"github.com/IliaW/listing-crawler/internal/model"
)

// Policy is the pool sizing and session lifetime rule derived from a rotation mode.
type Policy struct {
	Mode          model.RotationMode
	PoolSize      int
	MaxUsageCount int // 0 means unlimited: the session retires only on failure
}

var defaultMaxUsage = map[model.RotationMode]int{
	model.RotationRecycle:      50,
	model.RotationPerRequest:   1,
	model.RotationRecommended:  0,
	model.RotationUntilFailure: 0,
}

// DerivePolicy computes the pool size and max usage count for the mode.
// maxUsageOverride replaces the mode default when positive.
func DerivePolicy(mode model.RotationMode, concurrency, maxUsageOverride int) (Policy, error) {
	maxUsage, ok := defaultMaxUsage[mode]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", model.UnknownRotationModeError, mode)
	}
	if concurrency <= 0 {
		return Policy{}, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	if maxUsageOverride > 0 {
		maxUsage = maxUsageOverride
	}

	poolSize := concurrency
	if mode == model.RotationUntilFailure {
		poolSize = 1
	}

	return Policy{Mode: mode, PoolSize: poolSize, MaxUsageCount: maxUsage}, nil
}

func (p Policy) String() string {
	usage := "unlimited"
	if p.MaxUsageCount > 0 {
		usage = fmt.Sprintf("%d", p.MaxUsageCount)
	}
	return fmt.Sprintf("%s(pool=%d, max_usage=%s)", p.Mode, p.PoolSize, usage)
}
