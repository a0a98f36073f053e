package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store persists calibration snapshots. Load on an empty store returns the
// zero Snapshot and no error.
type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// JSONStore keeps the snapshot in a single JSON file.
type JSONStore struct {
	path string
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore returns a store backed by path. The file is created on the
// first Save.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file.
func (s *JSONStore) Path() string { return s.path }

type jsonSample struct {
	ID   string     `json:"id,omitempty"`
	Pan  float64    `json:"pan"`
	Tilt float64    `json:"tilt"`
	X    float64    `json:"x"`
	Y    float64    `json:"y"`
	TS   float64    `json:"ts"` // unix seconds
	Type SampleKind `json:"type"`
}

type jsonFile struct {
	Calibrated bool         `json:"calibrated"`
	Params     Params       `json:"params"`
	Samples    []jsonSample `json:"samples"`

	// Older files kept the two sweep directions apart.
	SamplesX []jsonSample `json:"samples_x,omitempty"`
	SamplesY []jsonSample `json:"samples_y,omitempty"`
}

// Load reads the file. A missing file is an empty snapshot.
func (s *JSONStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	raw := f.Samples
	if raw == nil {
		raw = append(append([]jsonSample(nil), f.SamplesX...), f.SamplesY...)
	}

	snap := Snapshot{Model: Model{Params: f.Params, Calibrated: f.Calibrated}}
	for _, js := range raw {
		snap.Samples = append(snap.Samples, js.sample())
	}
	return snap, nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (s *JSONStore) Save(snap Snapshot) error {
	f := jsonFile{
		Calibrated: snap.Model.Calibrated,
		Params:     snap.Model.Params,
		Samples:    make([]jsonSample, 0, len(snap.Samples)),
	}
	for _, smp := range snap.Samples {
		f.Samples = append(f.Samples, toJSONSample(smp))
	}

	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}

func toJSONSample(s Sample) jsonSample {
	return jsonSample{
		ID:   s.ID,
		Pan:  s.Pan,
		Tilt: s.Tilt,
		X:    s.X,
		Y:    s.Y,
		TS:   float64(s.Timestamp.UnixNano()) / 1e9,
		Type: s.Kind,
	}
}

func (js jsonSample) sample() Sample {
	id := js.ID
	if id == "" {
		id = uuid.NewString()
	}
	kind := js.Type
	if kind == "" {
		kind = KindGeneral
	}
	sec, frac := math.Modf(js.TS)
	return Sample{
		ID:        id,
		Pan:       js.Pan,
		Tilt:      js.Tilt,
		X:         js.X,
		Y:         js.Y,
		Timestamp: time.Unix(int64(sec), int64(frac*1e9)),
		Kind:      kind,
	}
}
