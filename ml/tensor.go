// Package ml - Tensor
// Dieses Modul definiert den dichten Tensor (row-major, float64), mit dem
// Samples, Rauschen und Modell-Aktivierungen dargestellt werden. Die
// Batch-Dimension ist immer die erste Achse; Operationen arbeiten zeilenweise
// ueber gonum-Vektorkernel statt elementweise.
package ml

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense row-major float64 array placed on a Device.
type Tensor struct {
	shape  []int
	data   []float64
	device Device
}

// Zeros allocates a zero filled tensor.
func Zeros(dev Device, shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float64, mul(shape...)), device: dev}
}

// FromFloats wraps data without copying. len(data) must match the shape.
func FromFloats(dev Device, data []float64, shape ...int) (*Tensor, error) {
	if n := mul(shape...); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{shape: slices.Clone(shape), data: data, device: dev}, nil
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dim returns the size of dimension n.
func (t *Tensor) Dim(n int) int { return t.shape[n] }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Device returns the compute target the tensor lives on.
func (t *Tensor) Device() Device { return t.device }

// Floats returns the backing storage. Writes are visible through t.
func (t *Tensor) Floats() []float64 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data), device: t.device}
}

// Reshape returns a tensor sharing storage with t under a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if mul(shape...) != len(t.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{shape: slices.Clone(shape), data: t.data, device: t.device}, nil
}

// Batch returns the size of the leading dimension.
func (t *Tensor) Batch() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// RowLen returns the number of elements per batch entry.
func (t *Tensor) RowLen() int {
	if t.Batch() == 0 {
		return 0
	}
	return len(t.data) / t.Batch()
}

// Row returns the storage of batch entry i.
func (t *Tensor) Row(i int) []float64 {
	n := t.RowLen()
	return t.data[i*n : (i+1)*n]
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.shape, o.shape)
}

func (t *Tensor) String() string {
	return Dump(t, DumpWithThreshold(64))
}

// Scale returns c*t.
func (t *Tensor) Scale(c float64) *Tensor {
	out := Zeros(t.device, t.shape...)
	floats.ScaleTo(out.data, c, t.data)
	return out
}

// Add returns t+o.
func (t *Tensor) Add(o *Tensor) (*Tensor, error) {
	return Axpby(1, t, 1, o)
}

// Sub returns t-o.
func (t *Tensor) Sub(o *Tensor) (*Tensor, error) {
	return Axpby(1, t, -1, o)
}

// Clamp returns a copy of t with every element limited to [lo, hi].
func (t *Tensor) Clamp(lo, hi float64) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = min(max(v, lo), hi)
	}
	return out
}

// Axpby returns a*x + b*y for scalars a and b.
func Axpby(a float64, x *Tensor, b float64, y *Tensor) (*Tensor, error) {
	if err := checkBinary(x, y); err != nil {
		return nil, err
	}
	out := Zeros(x.device, x.shape...)
	floats.ScaleTo(out.data, a, x.data)
	floats.AddScaled(out.data, b, y.data)
	return out, nil
}

// Combine returns a[i]*x[i] + b[i]*y[i] per batch entry i. The coefficient
// vectors are broadcast over all non-batch dimensions.
func Combine(a []float64, x *Tensor, b []float64, y *Tensor) (*Tensor, error) {
	if err := checkBinary(x, y); err != nil {
		return nil, err
	}
	n := x.Batch()
	if len(a) != n || len(b) != n {
		return nil, fmt.Errorf("coefficients for %d/%d rows, batch has %d", len(a), len(b), n)
	}

	out := Zeros(x.device, x.shape...)
	for i := range n {
		dst := out.Row(i)
		floats.ScaleTo(dst, a[i], x.Row(i))
		floats.AddScaled(dst, b[i], y.Row(i))
	}
	return out, nil
}

// ScaleRows returns c[i]*t[i] per batch entry i.
func (t *Tensor) ScaleRows(c []float64) (*Tensor, error) {
	if len(c) != t.Batch() {
		return nil, fmt.Errorf("coefficients for %d rows, batch has %d", len(c), t.Batch())
	}
	out := Zeros(t.device, t.shape...)
	for i := range c {
		floats.ScaleTo(out.Row(i), c[i], t.Row(i))
	}
	return out, nil
}

func checkBinary(x, y *Tensor) error {
	if err := sameDevice(x, y); err != nil {
		return err
	}
	if !x.SameShape(y) {
		return fmt.Errorf("shape mismatch: %v and %v", x.shape, y.shape)
	}
	return nil
}
