// errors.go - Fehlertypen der Diffusions-Engine
//
// Dieses Modul enthaelt:
// - ConfigurationError: ungueltige Engine-Konfiguration (fail fast)
// - ShapeError: Tensorform passt nicht zur Konfiguration
// - TimestepError: Zeitschritt ausserhalb des Schedules (nie stillschweigend geklemmt)
// - SamplingFailure / TrainingStepFailure: umhuellte Praediktor-Fehler
// - ErrNonFinite: NaN im Ergebnis der Rueckwaertsdiffusion
package diffusion

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrShape         = errors.New("shape mismatch")
	ErrTimestep      = errors.New("timestep out of range")
	ErrNonFinite     = errors.New("sample is not finite")
)

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShape }

type TimestepError struct {
	T     int
	Steps int
}

func (e *TimestepError) Error() string {
	return fmt.Sprintf("timestep %d out of range [0, %d)", e.T, e.Steps)
}

func (e *TimestepError) Is(target error) bool { return target == ErrTimestep }

// SamplingFailure reports an error raised while iterating the reverse process.
type SamplingFailure struct {
	Step     int
	Timestep int
	Err      error
}

func (e *SamplingFailure) Error() string {
	return fmt.Sprintf("sampling failed at step %d (t=%d): %v", e.Step, e.Timestep, e.Err)
}

func (e *SamplingFailure) Unwrap() error { return e.Err }

// TrainingStepFailure reports an error raised inside one optimisation step.
type TrainingStepFailure struct {
	Epoch int
	Batch int
	Err   error
}

func (e *TrainingStepFailure) Error() string {
	return fmt.Sprintf("training step failed (epoch %d, batch %d): %v", e.Epoch, e.Batch, e.Err)
}

func (e *TrainingStepFailure) Unwrap() error { return e.Err }

// CheckTimestep returns a TimestepError unless 0 <= t < steps.
func CheckTimestep(t, steps int) error {
	if t < 0 || t >= steps {
		return &TimestepError{T: t, Steps: steps}
	}
	return nil
}
