// Package yolo runs a YOLOv8 ONNX model through OpenCV's DNN module and
// reports pixel-space detections for the classes of interest.
package yolo

import (
	"fmt"
	"image"
	"os"
	"slices"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/detection"
)

// Config holds YOLO detector configuration
type Config struct {
	ModelPath        string   `yaml:"model_path" json:"model_path"`
	ConfidenceThresh float32  `yaml:"confidence" json:"confidence"`
	NMSThresh        float32  `yaml:"nms" json:"nms"`
	InputWidth       int      `yaml:"input_width" json:"input_width"`
	InputHeight      int      `yaml:"input_height" json:"input_height"`
	TargetClasses    []string `yaml:"target_classes" json:"target_classes"` // Empty keeps every class
}

// DefaultConfig returns production defaults for YOLOv8n
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
		TargetClasses:    []string{"cat", "person", "dog"},
	}
}

// Detector uses YOLOv8 for object detection
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
}

var _ detection.Detector = (*Detector)(nil)

// New loads the model at cfg.ModelPath.
func New(cfg Config) (*Detector, error) {
	// Check if model file exists
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Component("detection").Info("yolo model loaded",
		"model", cfg.ModelPath, "input", fmt.Sprintf("%dx%d", cfg.InputWidth, cfg.InputHeight))

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds target-class objects in the JPEG image. Boxes are in the
// image's pixel coordinates.
func (d *Detector) Detect(jpeg []byte) ([]detection.BoundingBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 84, 8400] - 84 = 4 bbox + 80 classes
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}
	cands := Decode(data, output.Cols(), output.Rows(), d.config,
		float32(img.Cols()), float32(img.Rows()))
	return d.suppress(cands), nil
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func (d *Detector) suppress(cands []Candidate) []detection.BoundingBox {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = image.Rect(int(c.Box.X1), int(c.Box.Y1), int(c.Box.X2), int(c.Box.Y2))
		scores[i] = float32(c.Box.Score)
	}
	indices := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)

	out := make([]detection.BoundingBox, 0, len(indices))
	for _, idx := range indices {
		out = append(out, cands[idx].Box)
	}
	return out
}

// Candidate is a decoded detection before non-maximum suppression.
type Candidate struct {
	Box     detection.BoundingBox
	ClassID int
}

// Decode parses a transposed YOLOv8 tensor laid out as cols x n (cols = 4 box
// values + class scores) and scales boxes to an imgW x imgH frame. Rows below
// the confidence threshold, outside TargetClasses or degenerate are dropped.
func Decode(data []float32, n, cols int, cfg Config, imgW, imgH float32) []Candidate {
	if n <= 0 || cols <= 4 || len(data) < n*cols {
		return nil
	}
	sx := imgW / float32(cfg.InputWidth)
	sy := imgH / float32(cfg.InputHeight)

	var out []Candidate
	for i := 0; i < n; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < cols; c++ {
			score := data[c*n+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < cfg.ConfidenceThresh {
			continue
		}

		name := ClassName(maxClassID)
		if len(cfg.TargetClasses) > 0 && !slices.Contains(cfg.TargetClasses, name) {
			continue
		}

		// Center x, center y, width, height in model input pixels
		cx := data[0*n+i]
		cy := data[1*n+i]
		w := data[2*n+i]
		h := data[3*n+i]

		b, err := detection.NewBoundingBox(
			float64((cx-w/2)*sx), float64((cy-h/2)*sy),
			float64((cx+w/2)*sx), float64((cy+h/2)*sy),
		)
		if err != nil {
			continue
		}
		b.Label = name
		b.Score = float64(maxScore)
		out = append(out, Candidate{Box: b, ClassID: maxClassID})
	}
	return out
}

// ClassName returns the COCO name for id, or "unknown".
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "unknown"
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// IsAnimal returns true if the class is an animal
func IsAnimal(className string) bool {
	switch className {
	case "bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe":
		return true
	}
	return false
}
