package train

import (
	"gonum.org/v1/gonum/floats"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/ml"
)

// MSE returns mean((pred-target)^2) and its gradient with respect to pred.
func MSE(pred, target *ml.Tensor) (float64, *ml.Tensor, error) {
	if !pred.SameShape(target) {
		return 0, nil, &diffusion.ShapeError{Op: "mse", Want: target.Shape(), Got: pred.Shape()}
	}

	diff, err := pred.Sub(target)
	if err != nil {
		return 0, nil, err
	}

	d := diff.Floats()
	n := float64(len(d))
	return floats.Dot(d, d) / n, diff.Scale(2 / n), nil
}
