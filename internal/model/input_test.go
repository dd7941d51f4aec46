package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRotationMode(t *testing.T) {
	tests := []struct {
		in   string
		want RotationMode
	}{
		{"RECYCLE", RotationRecycle},
		{"until_failure", RotationUntilFailure},
		{" per_request ", RotationPerRequest},
		{"Recommended", RotationRecommended},
		{"", RotationRecycle},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRotationMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRotationMode_Unknown(t *testing.T) {
	_, err := ParseRotationMode("SOMETIMES")
	assert.ErrorIs(t, err, UnknownRotationModeError)
}

func TestRequestState(t *testing.T) {
	assert.Equal(t, "dropped", StateDropped.String())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRetrying.Terminal())

	r := NewRequest("https://example.com")
	assert.Equal(t, 0, r.RetryCount())
	r.Attempts = 3
	assert.Equal(t, 2, r.RetryCount())
}
