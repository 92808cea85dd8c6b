package pass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameters_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Parameters)
		wantErr string
	}{
		{"defaults are valid", func(p *Parameters) {}, ""},
		{"page size too large", func(p *Parameters) { p.PageSize = 5000 }, "page_size"},
		{"permission page size zero", func(p *Parameters) { p.PermissionPageSize = 0 }, "permission_page_size"},
		{"fan out zero", func(p *Parameters) { p.PermissionFanOut = 0 }, "permission_fan_out"},
		{"fan out too large", func(p *Parameters) { p.PermissionFanOut = 100 }, "permission_fan_out"},
		{"sink batch too large", func(p *Parameters) { p.SinkBatchSize = 5000 }, "sink_batch_size"},
		{"pass timeout too short", func(p *Parameters) { p.PassTimeout = time.Second }, "pass_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			params := DefaultParameters()
			tt.mutate(params)

			// Act
			err := params.Validate(nil)

			// Assert
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParameters_ValidateAndSetDefaults(t *testing.T) {
	// Arrange
	params := &Parameters{PageSize: 50, EmitOwnerless: true}

	// Act
	err := params.ValidateAndSetDefaults(DefaultAPIConstraints())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 50, params.PageSize)
	assert.Equal(t, 100, params.PermissionPageSize)
	assert.Equal(t, 8, params.PermissionFanOut)
	assert.Equal(t, 100, params.SinkBatchSize)
	assert.Equal(t, 2*time.Hour, params.PassTimeout)
	assert.True(t, params.EmitOwnerless)
}

func TestParameters_NilIsRejected(t *testing.T) {
	var params *Parameters
	assert.Error(t, params.Validate(nil))
	assert.Error(t, params.ValidateAndSetDefaults(nil))
}
