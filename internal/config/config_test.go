package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-catlaser/pkg/autopilot"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvSerialPort, EnvWebPort, EnvDetectorBackend, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	if diff := cmp.Diff(autopilot.DefaultConfig(), cfg.AutoPilot()); diff != "" {
		t.Errorf("AutoPilot() mismatch (-want +got):\n%s", diff)
	}

	ap := cfg.AutoPilot()
	assert.Equal(t, 35.0, ap.ROIRadiusPx)
	assert.Equal(t, time.Second, ap.Cooldown)
	assert.Equal(t, 250*time.Millisecond, ap.Settle)
	assert.Equal(t, 800*time.Millisecond, ap.MaxLaserOn)
	assert.Equal(t, gimbal.FullRange, ap.PanLimits)
	assert.Equal(t, detection.BackendMock, cfg.Detector.Backend)
	assert.Equal(t, "8080", cfg.Web.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Overlay(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log_level: debug
servos:
  pan_limits: {min: 20, max: 160}
calibration:
  store: sqlite
  path: /var/lib/catlaser/calibration.db
auto_loop:
  settle: 400ms
  motion: creep
  roi_radius_px: 40
detector:
  backend: remote
  remote:
    url: ws://10.0.0.5:8765/detections
web:
  port: "9090"
  status_interval: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, gimbal.Limits{Min: 20, Max: 160}, cfg.Servos.PanLimits)
	assert.Equal(t, gimbal.FullRange, cfg.Servos.TiltLimits, "untouched keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Calibration.Store)
	assert.Equal(t, detection.BackendRemote, cfg.Detector.Backend)
	assert.Equal(t, "ws://10.0.0.5:8765/detections", cfg.Detector.Remote.URL)
	assert.Equal(t, "9090", cfg.Web.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Web.StatusInterval)

	ap := cfg.AutoPilot()
	assert.Equal(t, 400*time.Millisecond, ap.Settle)
	assert.Equal(t, time.Second, ap.Cooldown)
	assert.Equal(t, autopilot.MotionCreep, ap.Motion)
	assert.Equal(t, 40.0, ap.ROIRadiusPx)
	assert.Equal(t, gimbal.Limits{Min: 20, Max: 160}, ap.PanLimits)
}

func TestLoad_ParseErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeConfig(t, "auto_loop: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "detector:\n  backend: gpu\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "auto_loop:\n  settle: soon\n"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSerialPort, "/dev/ttyUSB1")
	t.Setenv(EnvWebPort, "8181")
	t.Setenv(EnvDetectorBackend, "yolo")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Servos.SerialPort)
	assert.Equal(t, "maestro", cfg.Servos.Driver)
	assert.Equal(t, "8181", cfg.Web.Port)
	assert.Equal(t, detection.BackendCPU, cfg.Detector.Backend)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestApplyEnv_Invalid(t *testing.T) {
	env := map[string]string{EnvWebPort: "http"}
	cfg := Default()
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))

	env = map[string]string{EnvDetectorBackend: "tpu"}
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Servos.Driver = "pca9685" }},
		{"maestro without port", func(c *Config) { c.Servos.Driver = "maestro"; c.Servos.SerialPort = "" }},
		{"bad parity", func(c *Config) { c.Servos.Driver = "maestro"; c.Servos.Port.Parity = "X" }},
		{"shared servo channel", func(c *Config) { c.Servos.TiltChannel = c.Servos.PanChannel }},
		{"laser on servo channel", func(c *Config) { c.Laser.Channel = c.Servos.TiltChannel }},
		{"unknown store", func(c *Config) { c.Calibration.Store = "redis" }},
		{"empty store path", func(c *Config) { c.Calibration.Path = "" }},
		{"remote without url", func(c *Config) { c.Detector.Backend = detection.BackendRemote; c.Detector.Remote.URL = "" }},
		{"cpu without model", func(c *Config) { c.Detector.Backend = detection.BackendCPU; c.Detector.YOLO.ModelPath = "" }},
		{"zero tick", func(c *Config) { c.AutoLoop.TickInterval = 0 }},
		{"inverted limits", func(c *Config) { c.Servos.PanLimits = gimbal.Limits{Min: 120, Max: 60} }},
		{"empty web port", func(c *Config) { c.Web.Port = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestServoAndMaestroConfig(t *testing.T) {
	cfg := Default()
	sc := cfg.ServoConfig()
	assert.Equal(t, gimbal.Pose{Pan: 90, Tilt: 80}, sc.Center)
	assert.Equal(t, 1, sc.TiltChannel)
	assert.Equal(t, gimbal.DefaultMaestroConfig(), cfg.MaestroConfig())
}
