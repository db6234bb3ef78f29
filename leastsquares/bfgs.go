package leastsquares

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/sensorcalib/logging"
)

// costRecorder keeps the cost at every major iteration.
type costRecorder struct {
	history []float64
	logger  logging.Logger
}

func (rec *costRecorder) Init() error {
	return nil
}

func (rec *costRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	rec.history = append(rec.history, loc.F)
	rec.logger.Debugw("major iteration", "iteration", stats.MajorIterations, "cost", loc.F)
	return nil
}

// solveBFGS minimizes over the local update delta around x0, so that x = x0 boxplus delta.
func solveBFGS(p *Problem, x0 []float64, settings Settings, logger logging.Logger) ([]float64, *Summary, error) {
	n, m := p.NumParams, p.NumResiduals
	at := func(delta []float64) []float64 {
		x := make([]float64, n)
		p.plus(x, x0, delta)
		return x
	}
	cost := func(delta []float64) float64 {
		return p.cost(make([]float64, m), at(delta))
	}

	initial := cost(make([]float64, n))
	if math.IsNaN(initial) || math.IsInf(initial, 0) {
		return nil, nil, errors.New("initial cost is not finite")
	}

	useJacobian := p.Plus == nil && p.Jacobian != nil && !settings.NumericJacobian
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, delta []float64) {
			if useJacobian {
				x := at(delta)
				r := make([]float64, m)
				p.Residuals(r, x)
				jac := mat.NewDense(m, n, nil)
				p.Jacobian(jac, x)
				mat.NewVecDense(n, grad).MulVec(jac.T(), mat.NewVecDense(m, r))
				return
			}
			fd.Gradient(grad, cost, delta, &fd.Settings{
				Formula:    fd.Central,
				Concurrent: settings.ConcurrentJacobian,
			})
		},
	}

	rec := &costRecorder{history: []float64{initial}, logger: logger}
	result, err := optimize.Minimize(problem, make([]float64, n), &optimize.Settings{
		GradientThreshold: settings.GradientTolerance,
		MajorIterations:   settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Relative:   settings.FunctionTolerance,
			Iterations: 5,
		},
		Recorder: rec,
	}, &optimize.BFGS{})
	if result == nil {
		return nil, nil, errors.Wrap(err, "bfgs failed")
	}

	grad := make([]float64, n)
	problem.Grad(grad, result.X)
	summary := &Summary{
		Method:          BFGS,
		InitialCost:     initial,
		FinalCost:       result.F,
		Iterations:      result.Stats.MajorIterations,
		SuccessfulSteps: result.Stats.MajorIterations,
		CostHistory:     rec.history,
		NumResiduals:    m,
		NumParameters:   n,
	}
	if err != nil {
		logger.Debugw("bfgs stopped early", "error", err)
	}
	summary.Termination, summary.Converged = bfgsTermination(result.Status, err, floats.Norm(grad, math.Inf(1)), result.F, initial, settings)
	if result.F > initial || math.IsNaN(result.F) {
		summary.FinalCost = initial
		return append([]float64(nil), x0...), summary, nil
	}
	return at(result.X), summary, nil
}

// bfgsTermination maps how gonum stopped onto a termination reason. Line searches give up close to
// the minimum, so an error at a point that already meets the gradient or cost tolerance still counts
// as converged.
func bfgsTermination(status optimize.Status, err error, gradNorm, cost, initial float64, settings Settings) (Termination, bool) {
	switch {
	case status == optimize.GradientThreshold, gradNorm <= settings.GradientTolerance:
		return GradientToleranceReached, true
	case status == optimize.FunctionConvergence, err != nil && cost <= settings.FunctionTolerance*initial:
		return FunctionToleranceReached, true
	case err != nil:
		return MethodFailure, false
	case status == optimize.IterationLimit:
		return IterationLimitReached, false
	default:
		return MethodFailure, false
	}
}
