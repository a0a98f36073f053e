package detection

import (
	"sync/atomic"

	"github.com/teslashibe/go-catlaser/internal/log"
)

// FrameDetector runs a Detector on submitted frames and serves the result as
// a Source. Inference failures clear the cache rather than keep old boxes.
type FrameDetector struct {
	det   Detector
	cache *Cache

	frames atomic.Uint64
	errors atomic.Uint64
}

var _ Source = (*FrameDetector)(nil)

// NewFrameDetector wraps det with cache.
func NewFrameDetector(det Detector, cache *Cache) *FrameDetector {
	return &FrameDetector{det: det, cache: cache}
}

// Process runs inference on one JPEG frame.
func (f *FrameDetector) Process(jpeg []byte) error {
	n := f.frames.Add(1)
	boxes, err := f.det.Detect(jpeg)
	if err != nil {
		f.errors.Add(1)
		f.cache.Clear()
		return err
	}
	kept := f.cache.Update(boxes)
	if n%30 == 0 {
		log.Component("detection").Debug("frame processed", "frame", n, "detections", kept)
	}
	return nil
}

// LatestDetections implements Source.
func (f *FrameDetector) LatestDetections() []BoundingBox {
	return f.cache.LatestDetections()
}

// Stats returns the processed frame and error counts.
func (f *FrameDetector) Stats() (frames, errs uint64) {
	return f.frames.Load(), f.errors.Load()
}

// Close releases the detector.
func (f *FrameDetector) Close() error {
	return f.det.Close()
}
