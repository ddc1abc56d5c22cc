package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManagerLoadsExistingConfigs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plume.yaml"),
		[]byte("service:\n  port: 9300\n"), 0o644))

	m, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	cfg, ok := m.GetConfig("plume.yaml")
	require.True(t, ok)
	service, ok := cfg["service"].(map[string]interface{})
	require.True(t, ok)
	port, ok := intVal(service["port"])
	require.True(t, ok)
	assert.Equal(t, 9300, port)
}

func TestManagerStartIsIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.NoError(t, m.Start())
}

func TestManagerValidatorRejects(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	m.RegisterValidator("plume.yaml", ValidatePlumeConfig)

	err = m.SetConfig("plume.yaml", map[string]interface{}{
		"service": map[string]interface{}{"port": 99999},
	})
	require.Error(t, err)

	_, ok := m.GetConfig("plume.yaml")
	assert.False(t, ok, "rejected config must not be stored")
}

func TestManagerSetConfigNotifiesHandlers(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	events := make(chan ChangeEvent, 1)
	m.RegisterHandler("plume.yaml", func(ev ChangeEvent) error {
		events <- ev
		return nil
	})

	require.NoError(t, m.SetConfig("plume.yaml", map[string]interface{}{
		"service": map[string]interface{}{"port": 9301},
	}))

	select {
	case ev := <-events:
		assert.Equal(t, "plume.yaml", ev.File)
		assert.Equal(t, "set", ev.Action)
		assert.NotNil(t, ev.Config["service"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not notified")
	}
}

func TestManagerReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plume.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  port: 9300\n"), 0o644))

	m, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, os.WriteFile(path, []byte("service:\n  port: 9400\n"), 0o644))
	require.NoError(t, m.Reload("plume.yaml"))

	cfg, ok := m.GetConfig("plume.yaml")
	require.True(t, ok)
	service := cfg["service"].(map[string]interface{})
	port, _ := intVal(service["port"])
	assert.Equal(t, 9400, port)
}

func TestManagerPolicyReload(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	m.RegisterPolicyHandler(func() error {
		calls++
		return nil
	})

	m.reloadPolicies("writing.rego", "modify")
	assert.Equal(t, 1, calls)
}

func TestManagerGetConfigReturnsCopy(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.SetConfig("plume.yaml", map[string]interface{}{"key": "value"}))

	cfg, ok := m.GetConfig("plume.yaml")
	require.True(t, ok)
	cfg["key"] = "mutated"

	fresh, _ := m.GetConfig("plume.yaml")
	assert.Equal(t, "value", fresh["key"])
}

func TestConfigFileDetection(t *testing.T) {
	assert.True(t, isConfigFile("plume.yaml"))
	assert.True(t, isConfigFile("plume.yml"))
	assert.True(t, isConfigFile("plume.json"))
	assert.False(t, isConfigFile("writing.rego"))
	assert.False(t, isConfigFile("notes.txt"))

	assert.True(t, isPolicyFile("writing.rego"))
	assert.False(t, isPolicyFile("plume.yaml"))

	assert.Equal(t, FormatJSON, formatFor("a.json"))
	assert.Equal(t, FormatYAML, formatFor("a.yaml"))
	assert.Equal(t, FormatYAML, formatFor("a.yml"))
}
