package nn

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errNoForward = errors.New("backward called before forward")

// Linear computes y = x W^T + b for a batch of row vectors. W is stored
// [out, in] row-major.
type Linear struct {
	In, Out int
	W, B    *Param

	x *mat.Dense
}

// NewLinear creates a Xavier initialised layer.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   NewParam(name+".weight", out, in),
		B:   NewParam(name+".bias", out),
	}
	xavierInit(l.W.Data, in, out, rng)
	return l
}

func (l *Linear) weight() *mat.Dense { return mat.NewDense(l.Out, l.In, l.W.Data) }

// Forward caches x for the backward pass.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	l.x = x

	rows, _ := x.Dims()
	y := mat.NewDense(rows, l.Out, nil)
	y.Mul(x, l.weight().T())
	for i := range rows {
		floats.Add(y.RawRowView(i), l.B.Data)
	}
	return y
}

// Backward accumulates dW and db and returns dL/dx.
func (l *Linear) Backward(dy *mat.Dense) (*mat.Dense, error) {
	if l.x == nil {
		return nil, errNoForward
	}

	gw := mat.NewDense(l.Out, l.In, l.W.Grad)
	var dw mat.Dense
	dw.Mul(dy.T(), l.x)
	gw.Add(gw, &dw)

	rows, _ := dy.Dims()
	for i := range rows {
		floats.Add(l.B.Grad, dy.RawRowView(i))
	}

	dx := mat.NewDense(rows, l.In, nil)
	dx.Mul(dy, l.weight())
	return dx, nil
}

func (l *Linear) Parameters() []*Param { return []*Param{l.W, l.B} }

// SiLU is x * sigmoid(x).
type SiLU struct {
	x *mat.Dense
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func (s *SiLU) Forward(x *mat.Dense) *mat.Dense {
	s.x = x

	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 { return v * sigmoid(v) }, x)
	return &y
}

func (s *SiLU) Backward(dy *mat.Dense) (*mat.Dense, error) {
	if s.x == nil {
		return nil, errNoForward
	}

	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		v := s.x.At(i, j)
		sg := sigmoid(v)
		return g * sg * (1 + v*(1-sg))
	}, dy)
	return &dx, nil
}

// Dropout zeroes activations with probability P during training and scales
// the survivors by 1/(1-P). It is the identity in evaluation mode.
type Dropout struct {
	P float64

	rng  *rand.Rand
	mask []float64
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.P == 0 {
		d.mask = nil
		return x
	}

	rows, cols := x.Dims()
	d.mask = make([]float64, rows*cols)
	keep := 1 / (1 - d.P)
	for i := range d.mask {
		if d.rng.Float64() >= d.P {
			d.mask[i] = keep
		}
	}

	y := mat.NewDense(rows, cols, nil)
	y.MulElem(x, mat.NewDense(rows, cols, d.mask))
	return y
}

func (d *Dropout) Backward(dy *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dy
	}

	rows, cols := dy.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.MulElem(dy, mat.NewDense(rows, cols, d.mask))
	return dx
}

// TimestepEmbedding returns the sinusoidal embedding of t with dim columns:
// sin(t*f_i) in the first half, cos(t*f_i) in the second, where
// f_i = 10000^(-i/(dim/2)).
func TimestepEmbedding(t []int, dim int) *mat.Dense {
	half := dim / 2
	emb := mat.NewDense(len(t), dim, nil)
	for r, step := range t {
		row := emb.RawRowView(r)
		for i := range half {
			f := math.Exp(-math.Log(10000) * float64(i) / float64(half))
			row[i] = math.Sin(float64(step) * f)
			row[half+i] = math.Cos(float64(step) * f)
		}
	}
	return emb
}
