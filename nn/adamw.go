package nn

import "math"

// AdamW is Adam with decoupled weight decay and bias correction.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t    int
	m, v map[*Param][]float64
}

// NewAdamW returns an optimizer with the usual defaults
// (0.9, 0.999, 1e-8, weight decay 1e-2).
func NewAdamW(lr float64) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 1e-2,
	}
}

// Steps returns how many updates have been applied.
func (o *AdamW) Steps() int { return o.t }

// Step updates every parameter from its accumulated gradient.
func (o *AdamW) Step(params []*Param) {
	if o.m == nil {
		o.m = make(map[*Param][]float64)
		o.v = make(map[*Param][]float64)
	}

	o.t++
	bc1 := 1.0 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1.0 - math.Pow(o.Beta2, float64(o.t))
	decay := 1 - o.LR*o.WeightDecay

	for _, p := range params {
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, p.Len())
			o.m[p] = m
			o.v[p] = make([]float64, p.Len())
		}
		v := o.v[p]

		for i, g := range p.Grad {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p.Data[i] = p.Data[i]*decay - o.LR*mHat/(math.Sqrt(vHat)+o.Eps)
		}
	}
}
