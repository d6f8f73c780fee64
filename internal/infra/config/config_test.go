package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/focuslamp/internal/domain/schedule"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, "lelamp", cfg.Lamp.ID)
	assert.Equal(t, 64, cfg.Lamp.LEDCount)
	assert.Equal(t, 30, cfg.Lamp.FPS)
	assert.Equal(t, 750.0, cfg.Lamp.MaxLux)
	assert.Equal(t, 4500, cfg.Idle.ColorTemperatureK)
	assert.Equal(t, 300.0, cfg.Idle.IlluminanceLux)
	assert.Equal(t, 0.5, cfg.Idle.Scale)
	assert.Equal(t, 10*time.Second, cfg.SamplingPeriod())
	assert.Equal(t, "0_beginning", cfg.Actions.Beginning)
	assert.Equal(t, "0_ending", cfg.Actions.Ending)
	assert.Equal(t, RatingFile, cfg.Rating.Type)
	assert.Equal(t, "detection_log.txt", cfg.Rating.File.Path)
	assert.Empty(t, cfg.History.Path)

	assert.Equal(t, schedule.Params{TotalDurationMinutes: 60, FatigueLevel: 3}, cfg.SessionParams())
}

func TestParse_File(t *testing.T) {
	data := []byte(`
server:
  addr: ":9090"
  control_token: "secret"
lamp:
  id: "lamp-7"
  led_count: 40
session:
  start_hour: 14
  start_minute: 30
  total_duration_min: 90
  fatigue_level: 5
  focus_mode: -1
rating:
  type: redis
  redis:
    addr: "redis:6379"
    key: "rating"
history:
  path: "history.db"
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.ControlToken)
	assert.Equal(t, "lamp-7", cfg.Lamp.ID)
	assert.Equal(t, 40, cfg.Lamp.LEDCount)
	assert.Equal(t, schedule.Params{
		StartHour:            14,
		StartMinute:          30,
		TotalDurationMinutes: 90,
		FatigueLevel:         5,
		FocusMode:            -1,
	}, cfg.SessionParams())
	assert.Equal(t, RatingRedis, cfg.Rating.Type)
	assert.Equal(t, "redis:6379", cfg.Rating.Redis.Addr)
	assert.Equal(t, "history.db", cfg.History.Path)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("FOCUSLAMP_SERVER_CONTROL_TOKEN", "from-env")
	t.Setenv("FOCUSLAMP_LAMP_ID", "env-lamp")
	t.Setenv("FOCUSLAMP_SESSION_FATIGUE_LEVEL", "4")
	t.Setenv("FOCUSLAMP_RATING_FILE_PATH", "/var/log/detection.txt")

	cfg, err := Parse([]byte("server:\n  control_token: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.ControlToken)
	assert.Equal(t, "env-lamp", cfg.Lamp.ID)
	assert.Equal(t, 4, cfg.Session.FatigueLevel)
	assert.Equal(t, "/var/log/detection.txt", cfg.Rating.File.Path)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "fatigue out of range", yaml: "session:\n  fatigue_level: 6\n"},
		{name: "focus mode out of set", yaml: "session:\n  focus_mode: 2\n"},
		{name: "hour out of range", yaml: "session:\n  start_hour: 24\n"},
		{name: "idle too warm", yaml: "idle:\n  cct_k: 900\n"},
		{name: "unknown rating type", yaml: "rating:\n  type: kafka\n"},
		{name: "ws path without slash", yaml: "server:\n  ws_path: ws\n"},
		{name: "malformed yaml", yaml: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lamp:\n  fps: 60\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Lamp.FPS)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
