package leastsquares

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sensorcalib/logging"
)

const (
	minDiagonal = 1e-6
	maxDamping  = 1e32
)

// Termination says why a solve stopped.
type Termination string

// Termination reasons. Only the tolerance reasons count as converged.
const (
	FunctionToleranceReached Termination = "function_tolerance"
	GradientToleranceReached Termination = "gradient_tolerance"
	StepToleranceReached     Termination = "step_tolerance"
	DampingLimitReached      Termination = "damping_limit"
	IterationLimitReached    Termination = "iteration_limit"
	MethodFailure            Termination = "method_failure"
)

// Summary reports how a solve went.
type Summary struct {
	Method          Method      `json:"method"`
	InitialCost     float64     `json:"initial_cost"`
	FinalCost       float64     `json:"final_cost"`
	Iterations      int         `json:"iterations"`
	SuccessfulSteps int         `json:"successful_steps"`
	Converged       bool        `json:"converged"`
	Termination     Termination `json:"termination"`
	// CostHistory holds the cost at the start and after every accepted step.
	CostHistory   []float64 `json:"cost_history"`
	NumResiduals  int       `json:"num_residuals"`
	NumParameters int       `json:"num_parameters"`
}

// RMS returns the root mean square of the final residuals.
func (s *Summary) RMS() float64 {
	if s.NumResiduals == 0 {
		return 0
	}
	return math.Sqrt(2 * s.FinalCost / float64(s.NumResiduals))
}

// Solve minimizes 0.5*||r(x)||^2 starting at x0 and returns the best parameters found.
// x0 is not modified. Failing to converge is not an error; check Summary.Converged.
func Solve(p Problem, x0 []float64, settings Settings, logger logging.Logger) ([]float64, *Summary, error) {
	if err := p.validate(x0); err != nil {
		return nil, nil, err
	}
	if err := settings.Validate("settings"); err != nil {
		return nil, nil, err
	}
	settings = settings.withDefaults()
	if logger == nil {
		logger = logging.NewBlankLogger("leastsquares")
	}
	if settings.Method == BFGS {
		return solveBFGS(&p, x0, settings, logger)
	}
	return solveLM(&p, x0, settings, logger)
}

func solveLM(p *Problem, x0 []float64, settings Settings, logger logging.Logger) ([]float64, *Summary, error) {
	n, m := p.NumParams, p.NumResiduals
	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	cost := p.cost(r, x)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, nil, errors.New("initial cost is not finite")
	}
	summary := &Summary{
		Method:        LevenbergMarquardt,
		InitialCost:   cost,
		FinalCost:     cost,
		CostHistory:   []float64{cost},
		NumResiduals:  m,
		NumParameters: n,
		Termination:   IterationLimitReached,
	}

	jac := mat.NewDense(m, n, nil)
	jtj := mat.NewSymDense(n, nil)
	damped := mat.NewSymDense(n, nil)
	rVec := mat.NewVecDense(m, r)
	g := mat.NewVecDense(n, nil)
	delta := mat.NewVecDense(n, nil)
	diag := make([]float64, n)
	xNew := make([]float64, n)
	rNew := make([]float64, m)
	var chol mat.Cholesky

	mu, nu := 0.0, 2.0
	relinearize := true
	for iter := 0; iter < settings.MaxIterations; iter++ {
		summary.Iterations = iter + 1
		if relinearize {
			p.jacobian(jac, x, settings)
			jtj.SymOuterK(1, jac.T())
			g.MulVec(jac.T(), rVec)
			if floats.Norm(g.RawVector().Data, math.Inf(1)) <= settings.GradientTolerance {
				summary.Termination = GradientToleranceReached
				summary.Converged = true
				break
			}
			for i := range diag {
				diag[i] = math.Max(jtj.At(i, i), minDiagonal)
			}
			if mu == 0 {
				mu = settings.InitialDamping * floats.Max(diag)
			}
			relinearize = false
		}

		damped.CopySym(jtj)
		for i := 0; i < n; i++ {
			damped.SetSym(i, i, jtj.At(i, i)+mu*diag[i])
		}
		if !solveDamped(&chol, damped, delta, g) {
			mu *= nu
			nu *= 2
			if mu > maxDamping {
				summary.Termination = DampingLimitReached
				break
			}
			continue
		}
		d := delta.RawVector().Data
		if floats.Norm(d, 2) <= settings.StepTolerance*(floats.Norm(x, 2)+settings.StepTolerance) {
			summary.Termination = StepToleranceReached
			summary.Converged = true
			break
		}

		p.plus(xNew, x, d)
		newCost := p.cost(rNew, xNew)
		// decrease predicted by the damped linear model
		var predicted float64
		for i, di := range d {
			predicted += 0.5 * di * (mu*diag[i]*di - g.AtVec(i))
		}

		if newCost < cost && predicted > 0 {
			rho := (cost - newCost) / predicted
			relDecrease := (cost - newCost) / cost
			copy(x, xNew)
			copy(r, rNew)
			cost = newCost
			summary.SuccessfulSteps++
			summary.CostHistory = append(summary.CostHistory, cost)
			logger.Debugw("accepted step", "iteration", iter, "cost", cost, "damping", mu, "gain_ratio", rho)

			mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
			nu = 2
			relinearize = true
			if relDecrease <= settings.FunctionTolerance {
				summary.Termination = FunctionToleranceReached
				summary.Converged = true
				break
			}
			continue
		}

		logger.Debugw("rejected step", "iteration", iter, "cost", cost, "candidate_cost", newCost, "damping", mu)
		mu *= nu
		nu *= 2
		if mu > maxDamping {
			summary.Termination = DampingLimitReached
			break
		}
	}
	summary.FinalCost = cost
	logger.Debugw("solve finished",
		"termination", summary.Termination,
		"iterations", summary.Iterations,
		"initial_cost", summary.InitialCost,
		"final_cost", summary.FinalCost)
	return x, summary, nil
}

// solveDamped writes the step -(A)^-1 g into delta. It reports false when A is not positive definite.
func solveDamped(chol *mat.Cholesky, a *mat.SymDense, delta, g *mat.VecDense) bool {
	if ok := chol.Factorize(a); !ok {
		return false
	}
	if err := chol.SolveVecTo(delta, g); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return false
		}
	}
	delta.ScaleVec(-1, delta)
	for _, v := range delta.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
