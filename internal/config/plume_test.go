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

func TestDefaultPlumeConfig(t *testing.T) {
	cfg := DefaultPlumeConfig()

	assert.Equal(t, 8000, cfg.Service.Port)
	assert.Equal(t, 8081, cfg.Service.AdminPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Workflow.Budget.Bases["cover_letter"])
	assert.Equal(t, 6, cfg.Workflow.Budget.Bases["motivational_letter"])
	assert.Equal(t, 2, cfg.Workflow.Budget.Bases["email"])
	assert.Equal(t, 3, cfg.Workflow.Budget.DefaultBase)
	assert.Equal(t, 10, cfg.Workflow.Budget.Ceiling)
	assert.Equal(t, 85.0, cfg.Workflow.GapSkipScore)
	assert.Equal(t, 80.0, cfg.Workflow.SaveScoreMin)
	assert.Equal(t, 2, cfg.Workflow.GapCheckLimit)
	assert.Equal(t, 256, cfg.Streaming.RingCapacity)
	assert.Equal(t, "writing_samples", cfg.Vector.Samples)
	assert.Equal(t, "plume", cfg.Tracing.ServiceName)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
}

func TestApplyConfigMap(t *testing.T) {
	// yaml.v3 decodes integers as int and floats as float64; the appliers
	// must accept both encodings.
	raw := map[string]interface{}{
		"service": map[string]interface{}{
			"port":         9100,
			"read_timeout": "15s",
		},
		"database": map[string]interface{}{
			"driver": "sqlite3",
			"path":   "/tmp/test.db",
		},
		"workflow": map[string]interface{}{
			"gap_skip_score": 90,
			"save_score_min": 75.5,
			"stage_timeout":  "90s",
			"budget": map[string]interface{}{
				"bases": map[string]interface{}{
					"email": 3,
				},
				"ceiling": 8,
			},
			"convergence": map[string]interface{}{
				"plateau_spread": 1.5,
			},
		},
		"logging": map[string]interface{}{
			"level":        "debug",
			"output_paths": []interface{}{"stdout", "/var/log/plume.log"},
		},
	}

	cfg := DefaultPlumeConfig()
	applyConfigMap(cfg, raw)

	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, 15*time.Second, cfg.Service.ReadTimeout)
	assert.Equal(t, 8081, cfg.Service.AdminPort)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 90.0, cfg.Workflow.GapSkipScore)
	assert.Equal(t, 75.5, cfg.Workflow.SaveScoreMin)
	assert.Equal(t, 90*time.Second, cfg.Workflow.StageTimeout)
	assert.Equal(t, 8, cfg.Workflow.Budget.Ceiling)
	assert.Equal(t, 1.5, cfg.Workflow.Convergence.PlateauSpread)
	assert.Equal(t, 3.0, cfg.Workflow.Convergence.RegressionDrop)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout", "/var/log/plume.log"}, cfg.Logging.OutputPaths)

	// Listed budget bases override, unlisted keep their defaults.
	assert.Equal(t, 3, cfg.Workflow.Budget.Bases["email"])
	assert.Equal(t, 4, cfg.Workflow.Budget.Bases["cover_letter"])
}

func TestValidatePlumeConfig(t *testing.T) {
	t.Run("empty map is valid", func(t *testing.T) {
		assert.NoError(t, ValidatePlumeConfig(map[string]interface{}{}))
	})

	t.Run("valid sections", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"service":  map[string]interface{}{"port": 8000, "admin_port": 8081},
			"database": map[string]interface{}{"driver": "sqlite3"},
			"workflow": map[string]interface{}{
				"gap_skip_score": 85,
				"stage_timeout":  "2m",
			},
			"policy": map[string]interface{}{"mode": "enforce"},
		})
		assert.NoError(t, err)
	})

	t.Run("port out of range", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"service": map[string]interface{}{"port": 99999},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service.port")
	})

	t.Run("unknown database driver", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"database": map[string]interface{}{"driver": "oracle"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("score out of range", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"workflow": map[string]interface{}{"gap_skip_score": 120},
		})
		assert.Error(t, err)
	})

	t.Run("bad duration string", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"workflow": map[string]interface{}{"stage_timeout": "fast"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stage_timeout")
	})

	t.Run("plateau window too small", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"workflow": map[string]interface{}{
				"convergence": map[string]interface{}{"plateau_window": 1},
			},
		})
		assert.Error(t, err)
	})

	t.Run("unknown policy mode", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"policy": map[string]interface{}{"mode": "audit"},
		})
		assert.Error(t, err)
	})

	t.Run("unknown log level", func(t *testing.T) {
		err := ValidatePlumeConfig(map[string]interface{}{
			"logging": map[string]interface{}{"level": "trace"},
		})
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("JWT_SECRET", "sekrit")
	os.Setenv("POSTGRES_PASSWORD", "pw")
	os.Setenv("REDIS_ADDR", "cache:6380")
	os.Setenv("LLM_SERVICE_URL", "http://sidecar:9000")
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("SERVICE_PORT", "9001")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("POSTGRES_PASSWORD")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("LLM_SERVICE_URL")
		os.Unsetenv("SKIP_AUTH")
		os.Unsetenv("SERVICE_PORT")
	}()

	cfg := DefaultPlumeConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "http://sidecar:9000", cfg.LLM.BaseURL)
	assert.True(t, cfg.Auth.SkipAuth)
	assert.Equal(t, 9001, cfg.Service.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plume.yaml")
	data := `
service:
  port: 9200
llm:
  base_url: http://file:8000
workflow:
  save_score_min: 70
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	os.Setenv("CONFIG_PATH", path)
	os.Setenv("LLM_SERVICE_URL", "http://env-wins:8000")
	defer func() {
		os.Unsetenv("CONFIG_PATH")
		os.Unsetenv("LLM_SERVICE_URL")
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Service.Port)
	assert.Equal(t, 70.0, cfg.Workflow.SaveScoreMin)
	// Environment beats the file.
	assert.Equal(t, "http://env-wins:8000", cfg.LLM.BaseURL)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plume.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  port: 99999\n"), 0o644))

	os.Setenv("CONFIG_PATH", path)
	defer os.Unsetenv("CONFIG_PATH")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service.port")
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	os.Setenv("CONFIG_PATH", "")
	defer os.Unsetenv("CONFIG_PATH")

	// Run from a directory without a config/ tree so no candidate matches.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPlumeConfig().Service.Port, cfg.Service.Port)
}

func TestPlumeManagerHandleChange(t *testing.T) {
	logger := zaptest.NewLogger(t)
	files, err := NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	pm := NewPlumeManager(files, logger)
	require.NoError(t, pm.Initialize())

	var gotOld, gotNew float64
	pm.RegisterCallback(func(old, next *PlumeConfig) error {
		gotOld = old.Workflow.SaveScoreMin
		gotNew = next.Workflow.SaveScoreMin
		return nil
	})

	err = pm.handleChange(ChangeEvent{
		File:   "plume.yaml",
		Action: "modify",
		Config: map[string]interface{}{
			"workflow": map[string]interface{}{"save_score_min": 90},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 90.0, pm.Config().Workflow.SaveScoreMin)
	assert.Equal(t, 80.0, gotOld)
	assert.Equal(t, 90.0, gotNew)

	// Deleting the file reverts to defaults.
	require.NoError(t, pm.handleChange(ChangeEvent{File: "plume.yaml", Action: "delete"}))
	assert.Equal(t, 80.0, pm.Config().Workflow.SaveScoreMin)
}

func TestPlumeManagerConfigIsACopy(t *testing.T) {
	files, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	pm := NewPlumeManager(files, zaptest.NewLogger(t))

	cfg := pm.Config()
	cfg.Workflow.Budget.Bases["email"] = 99
	cfg.Logging.OutputPaths[0] = "mutated"

	fresh := pm.Config()
	assert.Equal(t, 2, fresh.Workflow.Budget.Bases["email"])
	assert.Equal(t, "stdout", fresh.Logging.OutputPaths[0])
}
