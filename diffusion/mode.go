package diffusion

// InferenceMode switches p to evaluation mode and returns a function that
// restores the mode p had before. Callers defer the returned function so
// the previous mode survives errors and panics alike.
func InferenceMode(p Predictor) (restore func()) {
	was := p.Training()
	p.SetTraining(false)
	return func() { p.SetTraining(was) }
}
