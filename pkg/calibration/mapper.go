package calibration

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/geometry"
)

// minSamples is the number of unknowns per axis.
const minSamples = 3

// Mapper owns the sample log and the fitted model. All methods are safe for
// concurrent use; Predict only takes a read lock.
type Mapper struct {
	store Store
	now   func() time.Time

	mu      sync.RWMutex
	model   Model
	samples []Sample
}

// NewMapper loads the persisted snapshot from store. A nil store keeps the
// mapper in memory only.
func NewMapper(store Store) (*Mapper, error) {
	m := &Mapper{store: store, now: time.Now}
	if store == nil {
		return m, nil
	}
	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	m.model = snap.Model
	m.samples = snap.Samples
	log.Component("calibration").Info("calibration loaded",
		"calibrated", m.model.Calibrated, "samples", len(m.samples))
	return m, nil
}

// AddSample appends a sample and persists the log. If persisting fails the
// sample is kept in memory and the error returned.
func (m *Mapper) AddSample(pan, tilt, x, y float64, kind SampleKind) (Sample, error) {
	if kind == "" {
		kind = KindGeneral
	}
	s := Sample{
		ID:        uuid.NewString(),
		Pan:       pan,
		Tilt:      tilt,
		X:         x,
		Y:         y,
		Timestamp: m.now(),
		Kind:      kind,
	}
	if !s.finite() {
		return Sample{}, ErrInvalidSample
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	log.Component("calibration").Info("sample added",
		"pan", pan, "tilt", tilt, "x", x, "y", y, "kind", kind)
	return s, m.saveLocked()
}

// Fit solves for new parameters. On failure the previous model is kept and a
// *FitError is returned.
func (m *Mapper) Fit() (Params, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	params, err := fit(m.samples)
	if err != nil {
		log.Component("calibration").Warn("fit failed", "error", err)
		return Params{}, err
	}

	m.model = Model{Params: params, Calibrated: true}
	log.Component("calibration").Info("fit succeeded",
		"samples", len(m.samples),
		"c1", params.C1, "c2", params.C2, "c3", params.C3,
		"c4", params.C4, "c5", params.C5, "c6", params.C6)
	return params, m.saveLocked()
}

// Predict returns the pixel the laser lands on at (pan, tilt). ok is false
// until a fit has succeeded.
func (m *Mapper) Predict(pan, tilt float64) (geometry.Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.model.Calibrated {
		return geometry.Point{}, false
	}
	return m.model.Params.Apply(pan, tilt), true
}

// Calibrated reports whether a model is available.
func (m *Mapper) Calibrated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model.Calibrated
}

// Model returns the current model.
func (m *Mapper) Model() Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// Samples returns a copy of the sample log.
func (m *Mapper) Samples() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sample(nil), m.samples...)
}

// Clear drops every sample and the model.
func (m *Mapper) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.model = Model{}
	log.Component("calibration").Info("calibration cleared")
	return m.saveLocked()
}

// Residuals returns the per-sample prediction error. It is empty while
// uncalibrated.
func (m *Mapper) Residuals() []Residual {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.model.Calibrated {
		return nil
	}
	out := make([]Residual, 0, len(m.samples))
	for _, s := range m.samples {
		p := m.model.Params.Apply(s.Pan, s.Tilt)
		out = append(out, Residual{
			Sample:    s,
			Predicted: p,
			Error:     geometry.Distance(p, geometry.Point{X: s.X, Y: s.Y}),
		})
	}
	return out
}

func (m *Mapper) saveLocked() error {
	if m.store == nil {
		return nil
	}
	snap := Snapshot{Model: m.model, Samples: append([]Sample(nil), m.samples...)}
	if err := m.store.Save(snap); err != nil {
		log.Component("calibration").Error("save failed", "error", err)
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// fit solves A·c = b for both axes with A = [pan, tilt, 1].
func fit(samples []Sample) (Params, error) {
	n := len(samples)
	if n < minSamples {
		return Params{}, &FitError{Reason: "not_enough_samples", Samples: n, err: ErrNotEnoughSamples}
	}

	a := mat.NewDense(n, 3, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	for i, s := range samples {
		a.SetRow(i, []float64{s.Pan, s.Tilt, 1})
		bx.SetVec(i, s.X)
		by.SetVec(i, s.Y)
	}

	rank, err := matrixRank(a)
	if err != nil {
		return Params{}, &FitError{Reason: "svd_failed", Samples: n, err: err}
	}
	if rank < 3 {
		return Params{}, &FitError{Reason: "rank_deficient", Samples: n, Rank: rank, err: ErrRankDeficient}
	}

	var cx, cy mat.VecDense
	if err := solve(&cx, a, bx); err != nil {
		return Params{}, &FitError{Reason: "solve_failed", Samples: n, Rank: rank, err: err}
	}
	if err := solve(&cy, a, by); err != nil {
		return Params{}, &FitError{Reason: "solve_failed", Samples: n, Rank: rank, err: err}
	}

	return Params{
		C1: cx.AtVec(0), C2: cx.AtVec(1), C3: cx.AtVec(2),
		C4: cy.AtVec(0), C5: cy.AtVec(1), C6: cy.AtVec(2),
	}, nil
}

// solve finds the least-squares solution. Ill-conditioning is reported by
// gonum as mat.Condition but the solution is still usable once the rank check
// has passed.
func solve(dst *mat.VecDense, a mat.Matrix, b mat.Vector) error {
	err := dst.SolveVec(a, b)
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

// matrixRank counts singular values above σmax·max(m,n)·ε.
func matrixRank(a *mat.Dense) (int, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return 0, errors.New("calibration: SVD did not converge")
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0, nil
	}
	r, c := a.Dims()
	tol := values[0] * float64(max(r, c)) * epsilon
	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	return rank, nil
}

// epsilon is the float64 machine epsilon.
var epsilon = math.Nextafter(1, 2) - 1
