package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/domain/drive"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &out))
	return out
}

func TestLogger_WithScopeAndComponent(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&Config{Level: "info", Format: "json"}, &buf)

	// Act
	logger.WithComponent("sync_service").
		WithScope(drive.DriveScope{TenantID: "t1", SiteID: "s1", DriveID: "d1"}).
		Sync("page published", "upserts", 3)

	// Assert
	entry := decodeLine(t, &buf)
	assert.Equal(t, "sync_service", entry["component"])
	assert.Equal(t, "t1", entry["tenant_id"])
	assert.Equal(t, "d1", entry["drive_id"])
	assert.Equal(t, "sync", entry["subsystem"])
	assert.Equal(t, float64(3), entry["upserts"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_DatabaseLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&Config{Level: "info"}, &buf)

	logger.Database("hidden at info")

	assert.Empty(t, buf.String())
}

func TestLogger_WithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&Config{Level: "debug"}, &buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger.WithContext(ctx).Info("hello")

	assert.Equal(t, "req-1", decodeLine(t, &buf)["request_id"])
}

func TestLogger_Performance(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&Config{}, &buf)

	logger.Performance("delta_pass", 1500*time.Millisecond)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "delta_pass", entry["operation"])
	assert.Equal(t, float64(1500), entry["duration_ms"])
}
