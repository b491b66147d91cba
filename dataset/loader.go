package dataset

import (
	"context"
	"iter"
	"math/rand/v2"

	"github.com/ollama/ddpm/ml"
)

// Batch is one mini-batch of images and their labels.
type Batch struct {
	Images *ml.Tensor
	Labels []int
}

// Loader splits a Dataset into mini-batches, reshuffling on every epoch.
type Loader struct {
	Dataset   Dataset
	BatchSize int
	Shuffle   bool
	DropLast  bool

	// Seed makes the shuffle order reproducible. 0 seeds from the clock.
	Seed uint64

	rng *rand.Rand
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.Dataset.Len()
	if l.BatchSize <= 0 {
		return 0
	}
	if l.DropLast {
		return n / l.BatchSize
	}
	return (n + l.BatchSize - 1) / l.BatchSize
}

// Batches iterates over one epoch. Iteration stops with ctx.Err() once ctx
// is done.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		n := l.Dataset.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if l.Shuffle {
			if l.rng == nil {
				l.rng = ml.NewNoiseSource(l.Seed)
			}
			l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		shape := l.Dataset.Shape()
		for b := range l.Len() {
			if err := ctx.Err(); err != nil {
				yield(Batch{}, err)
				return
			}

			idx := order[b*l.BatchSize : min((b+1)*l.BatchSize, n)]
			x := ml.Zeros(l.Dataset.Device(), append([]int{len(idx)}, shape...)...)
			labels := make([]int, len(idx))
			for i, j := range idx {
				px, label := l.Dataset.Item(j)
				copy(x.Row(i), px)
				labels[i] = label
			}

			if !yield(Batch{Images: x, Labels: labels}, nil) {
				return
			}
		}
	}
}
