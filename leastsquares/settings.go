package leastsquares

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Method selects the minimization algorithm used by Solve.
type Method string

const (
	// LevenbergMarquardt damps the Gauss-Newton normal equations. This is the default.
	LevenbergMarquardt Method = "levenberg_marquardt"
	// BFGS minimizes the cost with gonum's quasi-Newton method over the local update.
	BFGS Method = "bfgs"
)

// Default solver settings.
const (
	DefaultMaxIterations     = 100
	DefaultFunctionTolerance = 1e-10
	DefaultGradientTolerance = 1e-12
	DefaultStepTolerance     = 1e-10
	DefaultInitialDamping    = 1e-4
)

// Settings configures a solve. Zero values are replaced with defaults.
type Settings struct {
	Method Method `json:"method,omitempty"`
	// MaxIterations caps the number of outer iterations.
	MaxIterations int `json:"max_iterations,omitempty"`
	// FunctionTolerance stops when an accepted step decreases the cost by less than this fraction of it.
	FunctionTolerance float64 `json:"function_tolerance,omitempty"`
	// GradientTolerance stops when the max norm of the gradient falls below it.
	GradientTolerance float64 `json:"gradient_tolerance,omitempty"`
	// StepTolerance stops when the step is small relative to the parameter norm.
	StepTolerance float64 `json:"step_tolerance,omitempty"`
	// InitialDamping scales the largest diagonal entry of the normal matrix to seed the damping.
	InitialDamping float64 `json:"initial_damping,omitempty"`
	// NumericJacobian forces finite differences even when the problem has an analytic Jacobian.
	NumericJacobian bool `json:"numeric_jacobian,omitempty"`
	// ConcurrentJacobian evaluates finite difference columns concurrently.
	ConcurrentJacobian bool `json:"concurrent_jacobian,omitempty"`
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.Method == "" {
		s.Method = LevenbergMarquardt
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.FunctionTolerance == 0 {
		s.FunctionTolerance = DefaultFunctionTolerance
	}
	if s.GradientTolerance == 0 {
		s.GradientTolerance = DefaultGradientTolerance
	}
	if s.StepTolerance == 0 {
		s.StepTolerance = DefaultStepTolerance
	}
	if s.InitialDamping == 0 {
		s.InitialDamping = DefaultInitialDamping
	}
	return s
}

// Validate ensures all parts of the settings are valid.
func (s Settings) Validate(path string) error {
	var err error
	switch s.Method {
	case "", LevenbergMarquardt, BFGS:
	default:
		err = multierr.Append(err, errors.Errorf("%s: unknown method %q", path, s.Method))
	}
	if s.MaxIterations < 0 {
		err = multierr.Append(err, errors.Errorf("%s: max_iterations must not be negative", path))
	}
	for name, v := range map[string]float64{
		"function_tolerance": s.FunctionTolerance,
		"gradient_tolerance": s.GradientTolerance,
		"step_tolerance":     s.StepTolerance,
		"initial_damping":    s.InitialDamping,
	} {
		if v < 0 {
			err = multierr.Append(err, errors.Errorf("%s: %s must not be negative", path, name))
		}
	}
	return err
}
