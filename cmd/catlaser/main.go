// Command catlaser runs the pan/tilt laser toy: the control loop, the
// detector backend and the operator web API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-catlaser/internal/config"
	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/autopilot"
	"github.com/teslashibe/go-catlaser/pkg/calibration"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/detection/yolo"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
	"github.com/teslashibe/go-catlaser/pkg/web"
	"github.com/teslashibe/go-catlaser/pkg/wobble"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	mode := flag.String("mode", "manual", "Initial mode: manual, auto or track")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	initial, err := autopilot.ParseMode(*mode)
	if err != nil {
		log.Error("invalid -mode", "error", err)
		os.Exit(2)
	}

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, initial); err != nil {
		log.Error("catlaser exited", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

func run(ctx context.Context, cfg config.Config, initial autopilot.Mode) error {
	servoDrv, outDrv, closeDrv, err := openDrivers(cfg)
	if err != nil {
		return err
	}
	defer closeDrv()

	servos := gimbal.NewServoController(servoDrv, cfg.ServoConfig())
	laser := gimbal.NewLaserController(outDrv, cfg.Laser.Channel)
	defer laser.Off()

	store, closeStore, err := openStore(cfg.Calibration)
	if err != nil {
		return err
	}
	defer closeStore()
	mapper, err := calibration.NewMapper(store)
	if err != nil {
		return err
	}

	deps := web.Deps{Mapper: mapper}
	var src detection.Source

	switch cfg.Detector.Backend {
	case detection.BackendMock:
		deps.Mock = detection.NewMockDetector(cfg.Detector.MockTTL, nil)
		src = deps.Mock

	case detection.BackendCPU:
		yc := cfg.Detector.YOLO
		det, err := yolo.New(yolo.Config{
			ModelPath:        yc.ModelPath,
			ConfidenceThresh: yc.Confidence,
			NMSThresh:        yc.NMS,
			InputWidth:       yc.InputWidth,
			InputHeight:      yc.InputHeight,
			TargetClasses:    yc.TargetClasses,
		})
		if err != nil {
			return fmt.Errorf("cpu detector: %w", err)
		}
		deps.Frames = detection.NewFrameDetector(det, detection.NewCache(cfg.Detector.CacheTTL, nil))
		defer deps.Frames.Close()
		src = deps.Frames

	case detection.BackendRemote:
		remote := detection.NewRemoteSource(cfg.Detector.Remote, nil)
		go func() {
			if err := remote.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("remote detector stopped", "error", err)
			}
		}()
		src = remote
	}
	log.Info("detector ready", "backend", cfg.Detector.Backend)

	pilot, err := autopilot.New(cfg.AutoPilot(), servos, laser, src, mapper)
	if err != nil {
		return err
	}
	if err := pilot.Start(); err != nil {
		return err
	}
	defer func() {
		if err := pilot.Stop(2 * time.Second); err != nil {
			log.Error("control loop stop", "error", err)
		}
	}()
	pilot.SetMode(initial)

	deps.Pilot = pilot
	deps.Wobble = wobble.New(servos, nil, nil)
	defer deps.Wobble.Stop()

	log.Info("catlaser running",
		"servo_driver", cfg.Servos.Driver,
		"calibrated", mapper.Calibrated(),
		"mode", initial,
		"web_port", cfg.Web.Port)

	return web.NewServer(cfg.Web, deps).Run(ctx)
}

// openDrivers returns the servo and laser drivers plus a close func.
func openDrivers(cfg config.Config) (gimbal.ServoDriver, gimbal.OutputDriver, func(), error) {
	if !strings.EqualFold(cfg.Servos.Driver, "maestro") {
		drv := gimbal.NewNopDriver()
		log.Warn("no servo hardware configured, using in-memory driver")
		return drv, drv, func() {}, nil
	}
	drv, err := gimbal.OpenMaestro(cfg.Servos.SerialPort, cfg.Servos.Port, cfg.MaestroConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("servo controller connected", "port", cfg.Servos.SerialPort)
	return drv, drv, func() { closeQuietly(drv) }, nil
}

func openStore(cc config.CalibrationConfig) (calibration.Store, func(), error) {
	switch cc.Store {
	case "sqlite":
		s, err := calibration.NewSQLiteStore(cc.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { closeQuietly(s) }, nil
	default:
		return calibration.NewJSONStore(cc.Path), func() {}, nil
	}
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("close failed", "error", err)
	}
}
