package session

import (
	"testing"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePolicy(t *testing.T) {
	tests := []struct {
		name        string
		mode        model.RotationMode
		concurrency int
		override    int
		want        Policy
	}{
		{"recycle uses concurrency and default cap", model.RotationRecycle, 4, 0,
			Policy{Mode: model.RotationRecycle, PoolSize: 4, MaxUsageCount: 50}},
		{"recycle with override", model.RotationRecycle, 2, 2,
			Policy{Mode: model.RotationRecycle, PoolSize: 2, MaxUsageCount: 2}},
		{"per request", model.RotationPerRequest, 3, 0,
			Policy{Mode: model.RotationPerRequest, PoolSize: 3, MaxUsageCount: 1}},
		{"recommended is unlimited", model.RotationRecommended, 3, 0,
			Policy{Mode: model.RotationRecommended, PoolSize: 3, MaxUsageCount: 0}},
		{"until failure is a single session", model.RotationUntilFailure, 8, 0,
			Policy{Mode: model.RotationUntilFailure, PoolSize: 1, MaxUsageCount: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DerivePolicy(tt.mode, tt.concurrency, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerivePolicy_Errors(t *testing.T) {
	_, err := DerivePolicy("NEVER", 2, 0)
	assert.ErrorIs(t, err, model.UnknownRotationModeError)

	_, err = DerivePolicy(model.RotationRecycle, 0, 0)
	assert.Error(t, err)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "UNTIL_FAILURE(pool=1, max_usage=unlimited)",
		Policy{Mode: model.RotationUntilFailure, PoolSize: 1}.String())
	assert.Equal(t, "RECYCLE(pool=2, max_usage=2)",
		Policy{Mode: model.RotationRecycle, PoolSize: 2, MaxUsageCount: 2}.String())
}
