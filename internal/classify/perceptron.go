package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"colorgrid/pkg/colorutil"

	"gonum.org/v1/gonum/mat"
)

// inputs is the width of the standardized xyY input vector.
const inputs = 3

// Params holds the serialized output of the offline trainer: standardization
// constants plus the weights and biases of a single-hidden-layer network.
type Params struct {
	Mean       []float64     `json:"mean"`
	Scale      []float64     `json:"scale"`
	Coefs      [][][]float64 `json:"coefs"`      // [3×H], [H×1]
	Intercepts [][]float64   `json:"intercepts"` // [H], [1]

	// Carried through from the trainer; not used for scoring.
	Classes       []any   `json:"classes,omitempty"`
	OutActivation string  `json:"out_activation,omitempty"`
	Loss          float64 `json:"loss,omitempty"`
}

// ParseParams decodes and validates perceptron parameters from JSON.
func ParseParams(data []byte) (Params, error) {
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrMalformedParameters, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// LoadParams reads perceptron parameters from a JSON file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read perceptron parameters: %w", err)
	}
	p, err := ParseParams(data)
	if err != nil {
		return Params{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Hidden returns the hidden layer width implied by the first bias vector.
func (p Params) Hidden() int {
	if len(p.Intercepts) == 0 {
		return 0
	}
	return len(p.Intercepts[0])
}

// Validate checks that all shapes agree and that every scale component is
// usable as a divisor.
func (p Params) Validate() error {
	if len(p.Mean) != inputs {
		return fmt.Errorf("%w: mean has %d components, want %d", ErrMalformedParameters, len(p.Mean), inputs)
	}
	if len(p.Scale) != inputs {
		return fmt.Errorf("%w: scale has %d components, want %d", ErrMalformedParameters, len(p.Scale), inputs)
	}
	if len(p.Coefs) != 2 || len(p.Intercepts) != 2 {
		return fmt.Errorf("%w: want 2 weight matrices and 2 bias vectors, got %d and %d",
			ErrMalformedParameters, len(p.Coefs), len(p.Intercepts))
	}

	h := p.Hidden()
	if h == 0 {
		return fmt.Errorf("%w: empty hidden layer", ErrMalformedParameters)
	}
	if len(p.Coefs[0]) != inputs {
		return fmt.Errorf("%w: coefs[0] has %d rows, want %d", ErrMalformedParameters, len(p.Coefs[0]), inputs)
	}
	for i, row := range p.Coefs[0] {
		if len(row) != h {
			return fmt.Errorf("%w: coefs[0][%d] has %d columns, want %d", ErrMalformedParameters, i, len(row), h)
		}
	}
	if len(p.Coefs[1]) != h {
		return fmt.Errorf("%w: coefs[1] has %d rows, want %d", ErrMalformedParameters, len(p.Coefs[1]), h)
	}
	for i, row := range p.Coefs[1] {
		if len(row) != 1 {
			return fmt.Errorf("%w: coefs[1][%d] has %d columns, want 1", ErrMalformedParameters, i, len(row))
		}
	}
	if len(p.Intercepts[1]) != 1 {
		return fmt.Errorf("%w: intercepts[1] has %d entries, want 1", ErrMalformedParameters, len(p.Intercepts[1]))
	}

	values := [][]float64{p.Mean, p.Scale, p.Intercepts[0], p.Intercepts[1]}
	for _, m := range p.Coefs {
		values = append(values, m...)
	}
	for _, vs := range values {
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value", ErrMalformedParameters)
			}
		}
	}

	for i, s := range p.Scale {
		if s == 0 {
			return fmt.Errorf("%w: scale[%d]", ErrDivideByZero, i)
		}
	}
	return nil
}

// Perceptron replays a trained network: ReLU hidden layer, logistic output.
// It is immutable after construction and safe for concurrent use.
type Perceptron struct {
	mean  *mat.VecDense
	scale *mat.VecDense
	w1    *mat.Dense    // inputs × H
	b1    *mat.VecDense // H
	w2    *mat.VecDense // H
	b2    float64
}

// NewPerceptron validates p and builds the network.
func NewPerceptron(p Params) (*Perceptron, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h := p.Hidden()

	w1 := mat.NewDense(inputs, h, nil)
	for i, row := range p.Coefs[0] {
		w1.SetRow(i, row)
	}
	w2 := mat.NewVecDense(h, nil)
	for i, row := range p.Coefs[1] {
		w2.SetVec(i, row[0])
	}

	return &Perceptron{
		mean:  mat.NewVecDense(inputs, append([]float64(nil), p.Mean...)),
		scale: mat.NewVecDense(inputs, append([]float64(nil), p.Scale...)),
		w1:    w1,
		b1:    mat.NewVecDense(h, append([]float64(nil), p.Intercepts[0]...)),
		w2:    w2,
		b2:    p.Intercepts[1][0],
	}, nil
}

// Score implements Classifier.
func (n *Perceptron) Score(c colorutil.RGB) float64 {
	x, y, lum := colorutil.ToChromaticity(c)
	return n.Forward(x, y, lum)
}

// Forward evaluates the network on an unstandardized xyY triple.
func (n *Perceptron) Forward(x, y, lum float64) float64 {
	a := mat.NewVecDense(inputs, []float64{x, y, lum})
	a.SubVec(a, n.mean)
	a.DivElemVec(a, n.scale)

	var hidden mat.VecDense
	hidden.MulVec(n.w1.T(), a)
	hidden.AddVec(&hidden, n.b1)
	for i := 0; i < hidden.Len(); i++ {
		if hidden.AtVec(i) < 0 {
			hidden.SetVec(i, 0)
		}
	}

	z := n.b2 + mat.Dot(&hidden, n.w2)
	return 1 / (1 + math.Exp(-z))
}
