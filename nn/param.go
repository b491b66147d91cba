// Package nn provides a small trainable noise predictor and its optimizer:
// dense layers on gonum matrices, SiLU, inverted dropout, a sinusoidal
// timestep embedding and AdamW.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Param is a named trainable tensor with its gradient.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter.
func NewParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: slices.Clone(shape),
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
	}
}

func (p *Param) Len() int { return len(p.Data) }

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

func (p *Param) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Shape)
}

// xavierInit fills w with N(0, 2/(fanIn+fanOut)) draws.
func xavierInit(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}
