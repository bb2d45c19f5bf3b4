package monitoring

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/logger"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordKeyRotation("normal")
	m.RecordKeyRotation("normal")
	m.RecordKeyRevocation("compromise")
	m.RecordKeysExpired(3)
	m.RecordKeysCleaned(2)
	m.RecordSignature("sign", true)
	m.RecordSignature("verify", false)
	m.RecordWitnessVerification(true, 5*time.Millisecond)
	m.RecordWitnessMark(false)
	m.RecordInteraction(true)
	m.ObserveTrustScore(0.42)
	m.RecordCacheAccess("l1", true)
	m.RecordVaultAPI("read", time.Millisecond, nil)
	m.RecordDBQuery("save_chain", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.KeyRotations.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyRevocations.WithLabelValues("compromise")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.KeysExpired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.KeysCleaned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Signatures.WithLabelValues("verify", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WitnessVerifications.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WitnessMarks.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Interactions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheAccess.WithLabelValues("l1", "true")))

	count, err := testutil.GatherAndCount(reg, "lct_trust_score")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestNewLogger_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lct.log")
	log, err := NewLogger(&config.LogConfig{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithComponent("Test").Info(context.Background(), "hello",
		logger.String("entity_id", "abc"),
		logger.String("private_key", "deadbeef"),
	)
	log.Debug(context.Background(), "suppressed")
	log.SetLevel(constants.LogLevelDebug)
	log.Debug(context.Background(), "visible")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "Test", entry["component"])
	assert.Equal(t, "abc", entry["entity_id"])
	assert.NotEqual(t, "deadbeef", entry["private_key"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, lines[1], "visible")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(&config.TracingConfig{Enabled: false}, logger.NewNoopLogger())
	require.NoError(t, err)
	assert.False(t, tm.Enabled())

	_, span := tm.StartSpan(context.Background(), "noop")
	span.End()
	assert.NoError(t, tm.Shutdown(context.Background()))
}
