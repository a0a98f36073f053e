// Package config loads the catlaser configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-catlaser/pkg/autopilot"
	"github.com/teslashibe/go-catlaser/pkg/control"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
	"github.com/teslashibe/go-catlaser/pkg/web"
)

// Environment overrides.
const (
	EnvSerialPort      = "SERIAL_PORT"
	EnvWebPort         = "WEB_PORT"
	EnvDetectorBackend = "DETECTOR_BACKEND"
	EnvLogLevel        = "LOG_LEVEL"
)

// Config is the root of config.yaml.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Servos      ServosConfig      `yaml:"servos"`
	Laser       LaserConfig       `yaml:"laser"`
	Calibration CalibrationConfig `yaml:"calibration"`
	AutoLoop    AutoLoopConfig    `yaml:"auto_loop"`
	Detector    DetectorConfig    `yaml:"detector"`
	Web         web.Config        `yaml:"web"`
}

// ServosConfig selects the servo driver and wires the two axes.
type ServosConfig struct {
	Driver      string             `yaml:"driver"` // maestro or nop
	SerialPort  string             `yaml:"serial_port"`
	Port        gimbal.PortOptions `yaml:"port"`
	MinPulseUS  float64            `yaml:"min_pulse_us"`
	MaxPulseUS  float64            `yaml:"max_pulse_us"`
	PanChannel  int                `yaml:"pan_channel"`
	TiltChannel int                `yaml:"tilt_channel"`
	CenterPan   float64            `yaml:"center_pan"`
	CenterTilt  float64            `yaml:"center_tilt"`
	PanLimits   gimbal.Limits      `yaml:"pan_limits"`
	TiltLimits  gimbal.Limits      `yaml:"tilt_limits"`
}

// LaserConfig is the laser's output channel on the servo controller.
type LaserConfig struct {
	Channel int `yaml:"channel"`
}

// CalibrationConfig selects the calibration store.
type CalibrationConfig struct {
	Store string `yaml:"store"` // json or sqlite
	Path  string `yaml:"path"`
}

// AutoLoopConfig mirrors autopilot.Config with YAML names.
type AutoLoopConfig struct {
	DangerMarginPx   float64          `yaml:"danger_margin_px"`
	ROIRadiusPx      float64          `yaml:"roi_radius_px"`
	Settle           time.Duration    `yaml:"settle"`
	MaxLaserOn       time.Duration    `yaml:"max_laser_on"`
	Cooldown         time.Duration    `yaml:"cooldown"`
	PanJitterDeg     float64          `yaml:"pan_jitter_deg"`
	TiltJitterDeg    float64          `yaml:"tilt_jitter_deg"`
	MinMoveDeg       float64          `yaml:"min_move_deg"`
	RetargetAttempts int              `yaml:"retarget_attempts"`
	RoamRefresh      time.Duration    `yaml:"roam_refresh"`
	TrackRadiusDeg   float64          `yaml:"track_radius_deg"`
	EvadeMinDeg      float64          `yaml:"evade_min_deg"`
	EvadeMaxDeg      float64          `yaml:"evade_max_deg"`
	TickInterval     time.Duration    `yaml:"tick_interval"`
	ErrorBackoff     time.Duration    `yaml:"error_backoff"`
	Motion           autopilot.Motion `yaml:"motion"`
	Gains            control.Gains    `yaml:"pid"`
	DeadbandDeg      float64          `yaml:"deadband_deg"`
	CreepStepDeg     float64          `yaml:"creep_step_deg"`
	FrameWidth       int              `yaml:"frame_width"`
	FrameHeight      int              `yaml:"frame_height"`
}

// DetectorConfig selects and configures the detection backend.
type DetectorConfig struct {
	Backend  detection.Backend      `yaml:"backend"`
	MockTTL  time.Duration          `yaml:"mock_ttl"`
	CacheTTL time.Duration          `yaml:"cache_ttl"` // Expiry of CPU detector results
	YOLO     YOLOConfig             `yaml:"yolo"`
	Remote   detection.RemoteConfig `yaml:"remote"`
}

// YOLOConfig configures the CPU backend. It is kept free of the OpenCV
// bindings so loading a config never needs cgo.
type YOLOConfig struct {
	ModelPath     string   `yaml:"model_path"`
	Confidence    float32  `yaml:"confidence"`
	NMS           float32  `yaml:"nms"`
	InputWidth    int      `yaml:"input_width"`
	InputHeight   int      `yaml:"input_height"`
	TargetClasses []string `yaml:"target_classes"`
}

// Default returns the built-in configuration.
func Default() Config {
	ap := autopilot.DefaultConfig()
	return Config{
		LogLevel: "info",
		Servos: ServosConfig{
			Driver:      "nop",
			SerialPort:  "/dev/ttyACM0",
			Port:        gimbal.PortOptions{BaudRate: 115200},
			MinPulseUS:  gimbal.DefaultMaestroConfig().MinPulseUS,
			MaxPulseUS:  gimbal.DefaultMaestroConfig().MaxPulseUS,
			PanChannel:  0,
			TiltChannel: 1,
			CenterPan:   90,
			CenterTilt:  80,
			PanLimits:   ap.PanLimits,
			TiltLimits:  ap.TiltLimits,
		},
		Laser: LaserConfig{Channel: 2},
		Calibration: CalibrationConfig{
			Store: "json",
			Path:  "calibration.json",
		},
		AutoLoop: fromAutoPilot(ap),
		Detector: DetectorConfig{
			Backend:  detection.BackendMock,
			MockTTL:  detection.DefaultMockTTL,
			CacheTTL: 500 * time.Millisecond,
			YOLO: YOLOConfig{
				ModelPath:     "models/yolov8n.onnx",
				Confidence:    0.5,
				NMS:           0.45,
				InputWidth:    640,
				InputHeight:   640,
				TargetClasses: []string{"cat", "person", "dog"},
			},
			Remote: detection.DefaultRemoteConfig(),
		},
		Web: web.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvSerialPort); v != "" {
		c.Servos.SerialPort = v
		// Naming a port means real hardware.
		c.Servos.Driver = "maestro"
	}
	if v := getenv(EnvWebPort); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvWebPort, v)
		}
		c.Web.Port = v
	}
	if v := getenv(EnvDetectorBackend); v != "" {
		b, err := detection.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDetectorBackend, err)
		}
		c.Detector.Backend = b
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Servos.Driver) {
	case "maestro":
		if c.Servos.SerialPort == "" {
			errs = append(errs, errors.New("servos: maestro driver needs serial_port"))
		}
		if _, err := c.Servos.Port.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("servos: %w", err))
		}
	case "nop":
	default:
		errs = append(errs, fmt.Errorf("servos: unknown driver %q", c.Servos.Driver))
	}
	if c.Servos.PanChannel == c.Servos.TiltChannel {
		errs = append(errs, fmt.Errorf("servos: pan and tilt share channel %d", c.Servos.PanChannel))
	}
	if c.Laser.Channel == c.Servos.PanChannel || c.Laser.Channel == c.Servos.TiltChannel {
		errs = append(errs, fmt.Errorf("laser: channel %d is used by a servo", c.Laser.Channel))
	}
	switch c.Calibration.Store {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("calibration: unknown store %q", c.Calibration.Store))
	}
	if c.Calibration.Path == "" {
		errs = append(errs, errors.New("calibration: path is required"))
	}
	if c.Detector.Backend == detection.BackendRemote && c.Detector.Remote.URL == "" {
		errs = append(errs, errors.New("detector: remote backend needs remote.url"))
	}
	if c.Detector.Backend == detection.BackendCPU && c.Detector.YOLO.ModelPath == "" {
		errs = append(errs, errors.New("detector: cpu backend needs yolo.model_path"))
	}
	if c.Web.Port == "" {
		errs = append(errs, errors.New("web: port is required"))
	}
	if err := c.AutoPilot().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auto_loop: %w", err))
	}
	return errors.Join(errs...)
}

// ServoConfig builds the servo controller settings.
func (c Config) ServoConfig() gimbal.ServoConfig {
	return gimbal.ServoConfig{
		PanChannel:  c.Servos.PanChannel,
		TiltChannel: c.Servos.TiltChannel,
		PanLimits:   c.Servos.PanLimits,
		TiltLimits:  c.Servos.TiltLimits,
		Center:      gimbal.Pose{Pan: c.Servos.CenterPan, Tilt: c.Servos.CenterTilt},
	}
}

// MaestroConfig builds the pulse mapping for the Maestro driver.
func (c Config) MaestroConfig() gimbal.MaestroConfig {
	return gimbal.MaestroConfig{MinPulseUS: c.Servos.MinPulseUS, MaxPulseUS: c.Servos.MaxPulseUS}
}

// AutoPilot builds the session configuration for the control loop. Soft
// limits come from the servo section.
func (c Config) AutoPilot() autopilot.Config {
	a := c.AutoLoop
	return autopilot.Config{
		DangerMarginPx:   a.DangerMarginPx,
		ROIRadiusPx:      a.ROIRadiusPx,
		Settle:           a.Settle,
		MaxLaserOn:       a.MaxLaserOn,
		Cooldown:         a.Cooldown,
		PanJitterDeg:     a.PanJitterDeg,
		TiltJitterDeg:    a.TiltJitterDeg,
		MinMoveDeg:       a.MinMoveDeg,
		RetargetAttempts: a.RetargetAttempts,
		RoamRefresh:      a.RoamRefresh,
		TrackRadiusDeg:   a.TrackRadiusDeg,
		PanLimits:        c.Servos.PanLimits,
		TiltLimits:       c.Servos.TiltLimits,
		EvadeMinDeg:      a.EvadeMinDeg,
		EvadeMaxDeg:      a.EvadeMaxDeg,
		TickInterval:     a.TickInterval,
		ErrorBackoff:     a.ErrorBackoff,
		Motion:           a.Motion,
		Gains:            a.Gains,
		DeadbandDeg:      a.DeadbandDeg,
		CreepStepDeg:     a.CreepStepDeg,
		FrameWidth:       a.FrameWidth,
		FrameHeight:      a.FrameHeight,
	}
}

func fromAutoPilot(a autopilot.Config) AutoLoopConfig {
	return AutoLoopConfig{
		DangerMarginPx:   a.DangerMarginPx,
		ROIRadiusPx:      a.ROIRadiusPx,
		Settle:           a.Settle,
		MaxLaserOn:       a.MaxLaserOn,
		Cooldown:         a.Cooldown,
		PanJitterDeg:     a.PanJitterDeg,
		TiltJitterDeg:    a.TiltJitterDeg,
		MinMoveDeg:       a.MinMoveDeg,
		RetargetAttempts: a.RetargetAttempts,
		RoamRefresh:      a.RoamRefresh,
		TrackRadiusDeg:   a.TrackRadiusDeg,
		EvadeMinDeg:      a.EvadeMinDeg,
		EvadeMaxDeg:      a.EvadeMaxDeg,
		TickInterval:     a.TickInterval,
		ErrorBackoff:     a.ErrorBackoff,
		Motion:           a.Motion,
		Gains:            a.Gains,
		DeadbandDeg:      a.DeadbandDeg,
		CreepStepDeg:     a.CreepStepDeg,
		FrameWidth:       a.FrameWidth,
		FrameHeight:      a.FrameHeight,
	}
}
