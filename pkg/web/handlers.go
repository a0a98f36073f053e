package web

import (
	"bytes"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-catlaser/pkg/autopilot"
	"github.com/teslashibe/go-catlaser/pkg/calibration"
	"github.com/teslashibe/go-catlaser/pkg/detection"
	"github.com/teslashibe/go-catlaser/pkg/gimbal"
	"github.com/teslashibe/go-catlaser/pkg/wobble"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Pilot.Status())
}

// ModeRequest is the body of POST /api/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	mode, err := autopilot.ParseMode(req.Mode)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if mode != autopilot.ModeManual && s.deps.Wobble != nil {
		s.deps.Wobble.Stop()
	}
	s.deps.Pilot.SetMode(mode)
	s.logger.Info("mode set", "mode", mode)
	return c.JSON(s.deps.Pilot.Status())
}

// MoveRequest is the body of POST /api/move.
type MoveRequest struct {
	DPan  float64 `json:"dpan"`
	DTilt float64 `json:"dtilt"`
}

func (s *Server) handleMove(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	pose, err := s.deps.Pilot.MoveManual(req.DPan, req.DTilt)
	if err != nil {
		return pilotError(err)
	}
	return c.JSON(pose)
}

// PoseRequest is the body of POST /api/pose.
type PoseRequest struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

func (s *Server) handlePose(c *fiber.Ctx) error {
	var req PoseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	pose, err := s.deps.Pilot.SetPose(req.Pan, req.Tilt)
	if err != nil {
		return pilotError(err)
	}
	return c.JSON(pose)
}

func (s *Server) handleToggleLaser(c *fiber.Ctx) error {
	on := s.deps.Pilot.ToggleLaser()
	return c.JSON(fiber.Map{
		"laser": on,
		"state": s.deps.Pilot.State(),
	})
}

// LimitsRequest is the body of POST /api/limits and the GET response.
type LimitsRequest struct {
	PanMin  float64 `json:"pan_min"`
	PanMax  float64 `json:"pan_max"`
	TiltMin float64 `json:"tilt_min"`
	TiltMax float64 `json:"tilt_max"`
}

func limitsResponse(pan, tilt gimbal.Limits) LimitsRequest {
	return LimitsRequest{PanMin: pan.Min, PanMax: pan.Max, TiltMin: tilt.Min, TiltMax: tilt.Max}
}

func (s *Server) handleGetLimits(c *fiber.Ctx) error {
	return c.JSON(limitsResponse(s.deps.Pilot.Limits()))
}

func (s *Server) handleSetLimits(c *fiber.Ctx) error {
	var req LimitsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	pan := gimbal.Limits{Min: req.PanMin, Max: req.PanMax}
	tilt := gimbal.Limits{Min: req.TiltMin, Max: req.TiltMax}
	if !pan.Valid() || !tilt.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "limits must satisfy 0 <= min <= max <= 180")
	}
	s.deps.Pilot.SetLimits(pan, tilt)
	return c.JSON(limitsResponse(s.deps.Pilot.Limits()))
}

// CalibrationResponse is the body of GET /api/calibration.
type CalibrationResponse struct {
	Model     calibration.Model      `json:"model"`
	Samples   []calibration.Sample   `json:"samples"`
	Residuals []calibration.Residual `json:"residuals"`
}

func (s *Server) handleGetCalibration(c *fiber.Ctx) error {
	resp := CalibrationResponse{
		Model:     s.deps.Mapper.Model(),
		Samples:   s.deps.Mapper.Samples(),
		Residuals: s.deps.Mapper.Residuals(),
	}
	if resp.Samples == nil {
		resp.Samples = []calibration.Sample{}
	}
	if resp.Residuals == nil {
		resp.Residuals = []calibration.Residual{}
	}
	return c.JSON(resp)
}

// SampleRequest is the body of POST /api/calibration/samples. Pan and tilt
// default to the current pose.
type SampleRequest struct {
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
	Kind string   `json:"kind"`
	Pan  *float64 `json:"pan"`
	Tilt *float64 `json:"tilt"`
}

func (s *Server) handleAddSample(c *fiber.Ctx) error {
	var req SampleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	kind, err := calibration.ParseSampleKind(req.Kind)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	st := s.deps.Pilot.Status()
	pan, tilt := st.Pan, st.Tilt
	if req.Pan != nil {
		pan = *req.Pan
	}
	if req.Tilt != nil {
		tilt = *req.Tilt
	}

	sample, err := s.deps.Mapper.AddSample(pan, tilt, req.X, req.Y, kind)
	if errors.Is(err, calibration.ErrInvalidSample) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sample)
}

func (s *Server) handleFit(c *fiber.Ctx) error {
	params, err := s.deps.Mapper.Fit()
	var fe *calibration.FitError
	if errors.As(err, &fe) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   err.Error(),
			"reason":  fe.Reason,
			"samples": fe.Samples,
			"rank":    fe.Rank,
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(calibration.Model{Params: params, Calibrated: true})
}

func (s *Server) handleClearCalibration(c *fiber.Ctx) error {
	if err := s.deps.Mapper.Clear(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePlot(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := s.deps.Mapper.WritePlot(&buf); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(buf.Bytes())
}

// MockRequest is the body of POST /api/detections/mock.
type MockRequest struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Label string  `json:"label"`
}

func (s *Server) handleSetMock(c *fiber.Ctx) error {
	if s.deps.Mock == nil {
		return fiber.NewError(fiber.StatusNotFound, "mock detector not active")
	}
	var req MockRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	box, err := detection.NewBoundingBox(req.X1, req.Y1, req.X2, req.Y2)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	box.Label = req.Label
	box.Score = 0
	if err := s.deps.Mock.SetDetection(box); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"detections": s.deps.Mock.LatestDetections()})
}

func (s *Server) handleClearMock(c *fiber.Ctx) error {
	if s.deps.Mock == nil {
		return fiber.NewError(fiber.StatusNotFound, "mock detector not active")
	}
	s.deps.Mock.Clear()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleFrame runs the CPU detector on a JPEG request body.
func (s *Server) handleFrame(c *fiber.Ctx) error {
	if s.deps.Frames == nil {
		return fiber.NewError(fiber.StatusNotFound, "frame detector not active")
	}
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty frame")
	}
	if err := s.deps.Frames.Process(bytes.Clone(body)); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	dets := s.deps.Frames.LatestDetections()
	if dets == nil {
		dets = []detection.BoundingBox{}
	}
	return c.JSON(fiber.Map{"detections": dets})
}

// WobbleRequest is the body of POST /api/wobble.
type WobbleRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleStartWobble(c *fiber.Ctx) error {
	if s.deps.Wobble == nil {
		return fiber.NewError(fiber.StatusNotFound, "wobble not available")
	}
	var req WobbleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	p, err := wobble.ParsePattern(req.Pattern)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if s.deps.Pilot.State() != autopilot.StateManual {
		return fiber.NewError(fiber.StatusConflict, autopilot.ErrNotManual.Error())
	}
	if err := s.deps.Wobble.Start(p); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"pattern": p})
}

func (s *Server) handleStopWobble(c *fiber.Ctx) error {
	if s.deps.Wobble == nil {
		return fiber.NewError(fiber.StatusNotFound, "wobble not available")
	}
	s.deps.Wobble.Stop()
	return c.SendStatus(fiber.StatusNoContent)
}

func pilotError(err error) error {
	if errors.Is(err, autopilot.ErrNotManual) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return err
}
