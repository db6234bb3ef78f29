package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sensorcalib/leastsquares"
	"go.viam.com/sensorcalib/logging"
	"go.viam.com/sensorcalib/pointcloud"
	"go.viam.com/sensorcalib/spatialmath"
	"go.viam.com/sensorcalib/target"
)

var (
	// ErrSolverNonconvergence is reported when the solver stopped before meeting a convergence tolerance.
	// The returned parameter is still the best one found.
	ErrSolverNonconvergence = errors.New("extrinsic solver did not converge")
	// ErrDegenerateGeometry is reported when the observations cannot pin down all six degrees of freedom.
	ErrDegenerateGeometry = errors.New("degenerate calibration geometry")
)

const (
	// DefaultMinFrames is the fewest frames with observations a refinement runs on.
	DefaultMinFrames = 2
	// minNormalSpread is the smallest ratio between the extreme eigenvalues of the plane normals'
	// scatter matrix for which point-to-plane residuals constrain every direction.
	minNormalSpread = 1e-3
)

// PlaneFrame is what one frame contributes to a refinement.
type PlaneFrame struct {
	// Points are in the first sensor's frame.
	Points pointcloud.Points
	// Pose maps target coordinates into the second sensor's frame.
	Pose spatialmath.Pose
	// TargetPoints, when set, give the target coordinates of each point one to one, turning each
	// point-to-plane residual into a point-to-point one.
	TargetPoints []r3.Vector
}

// RefineOptions configures Refine. Zero values are replaced with defaults.
type RefineOptions struct {
	Solver    leastsquares.Settings `json:"solver"`
	MinFrames int                   `json:"min_frames,omitempty"`
	Logger    logging.Logger        `json:"-"`
}

// residualBlock is one observed point with the constants of its frame.
type residualBlock struct {
	point r3.Vector
	// axes are the target's axes in the second sensor's frame and origin is its origin there.
	axes   [3]r3.Vector
	origin r3.Vector
	// target is set for point-to-point blocks.
	target *r3.Vector
}

func (b *residualBlock) size() int {
	if b.target != nil {
		return 3
	}
	return 1
}

func newBlocks(frames []PlaneFrame) ([]residualBlock, int, error) {
	var blocks []residualBlock
	numResiduals := 0
	for i, f := range frames {
		if len(f.Points) == 0 {
			continue
		}
		if f.Pose == nil {
			return nil, 0, errors.Errorf("frame %d has points but no pose", i)
		}
		if len(f.TargetPoints) != 0 && len(f.TargetPoints) != len(f.Points) {
			return nil, 0, errors.Errorf("frame %d has %d points but %d target points", i, len(f.Points), len(f.TargetPoints))
		}
		rot := f.Pose.Orientation().RotationMatrix()
		axes := [3]r3.Vector{rot.Col(0), rot.Col(1), rot.Col(2)}
		for j, p := range f.Points {
			b := residualBlock{point: p, axes: axes, origin: f.Pose.Point()}
			if len(f.TargetPoints) != 0 {
				b.target = &f.TargetPoints[j]
			}
			blocks = append(blocks, b)
			numResiduals += b.size()
		}
	}
	return blocks, numResiduals, nil
}

// extrinsicTransform returns the rotation matrix and translation of the parameter block.
func extrinsicTransform(x []float64) (*spatialmath.RotationMatrix, r3.Vector) {
	q := spatialmath.ExpMap(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
	return spatialmath.QuatToRotationMatrix(q), r3.Vector{X: x[3], Y: x[4], Z: x[5]}
}

// evaluate writes the residuals of every block at x into dst and, when jac is not nil, their
// derivatives with respect to the left multiplied rotation update and the translation update.
// In target coordinates the point is q = axes^T (R p + t - origin); a plane residual is q.z and a
// point residual is q - target.
func evaluate(blocks []residualBlock, x []float64, dst []float64, jac *mat.Dense) {
	rot, t := extrinsicTransform(x)
	row := 0
	for i := range blocks {
		b := &blocks[i]
		rp := rot.Mul(b.point)
		rel := rp.Add(t).Sub(b.origin)
		first := 2
		if b.target != nil {
			first = 0
		}
		for k := first; k < 3; k++ {
			axis := b.axes[k]
			r := axis.Dot(rel)
			if b.target != nil {
				r -= component(*b.target, k)
			}
			dst[row] = r
			if jac != nil {
				dw := rp.Cross(axis)
				jac.SetRow(row, []float64{dw.X, dw.Y, dw.Z, axis.X, axis.Y, axis.Z})
			}
			row++
		}
	}
}

func newProblem(blocks []residualBlock, numResiduals int) leastsquares.Problem {
	return leastsquares.Problem{
		NumParams:    6,
		NumResiduals: numResiduals,
		Residuals: func(dst, x []float64) {
			evaluate(blocks, x, dst, nil)
		},
		Jacobian: func(dst *mat.Dense, x []float64) {
			r := make([]float64, numResiduals)
			evaluate(blocks, x, r, dst)
		},
		Plus: target.PlusRotationVector,
	}
}

// Refine jointly refines the extrinsic over every point of every frame, minimizing the squared
// distances of the points, mapped into target coordinates through the extrinsic and the frame's
// pose, from the target plane (or from their known target points). Frame poses are held fixed.
//
// When fewer than opts.MinFrames frames have points, Refine returns initial unchanged, a nil
// summary and an error wrapping ErrDegenerateGeometry. Otherwise the summary is set and the
// returned parameter is the best found; a non-nil error then is a warning combining
// ErrSolverNonconvergence and ErrDegenerateGeometry for plane normals that span too few directions.
func Refine(frames []PlaneFrame, initial ExtrinsicParameter, opts RefineOptions) (ExtrinsicParameter, *leastsquares.Summary, error) {
	if opts.MinFrames == 0 {
		opts.MinFrames = DefaultMinFrames
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewBlankLogger("calibration")
	}
	blocks, numResiduals, err := newBlocks(frames)
	if err != nil {
		return initial, nil, err
	}
	contributing := 0
	for _, f := range frames {
		if len(f.Points) > 0 {
			contributing++
		}
	}
	if numResiduals == 0 || contributing < opts.MinFrames {
		return initial, nil, errors.Wrapf(ErrDegenerateGeometry,
			"%d frames with %d residuals, need at least %d frames", contributing, numResiduals, opts.MinFrames)
	}

	var warnings error
	if spread, ok := normalSpread(frames); ok && spread < minNormalSpread {
		warnings = multierr.Append(warnings, errors.Wrapf(ErrDegenerateGeometry,
			"target normals span too few directions (spread %.2g)", spread))
	}

	opts.Logger.Debugw("refining extrinsic", "frames", contributing, "residuals", numResiduals, "method", opts.Solver.Method)
	x, summary, err := leastsquares.Solve(newProblem(blocks, numResiduals), initial[:], opts.Solver, opts.Logger)
	if err != nil {
		return initial, nil, errors.Wrap(err, "extrinsic solve failed")
	}
	var refined ExtrinsicParameter
	copy(refined[:], x)
	if !summary.Converged {
		warnings = multierr.Append(warnings, errors.Wrapf(ErrSolverNonconvergence,
			"stopped after %d iterations (%s) with cost %g", summary.Iterations, summary.Termination, summary.FinalCost))
	}
	return refined, summary, warnings
}

// normalSpread returns the ratio of the smallest to the largest eigenvalue of the scatter matrix
// of the target normals of the point-to-plane frames. It reports false when any frame has
// point-to-point residuals, which constrain every direction on their own.
func normalSpread(frames []PlaneFrame) (float64, bool) {
	scatter := mat.NewSymDense(3, nil)
	for _, f := range frames {
		if len(f.Points) == 0 {
			continue
		}
		if len(f.TargetPoints) != 0 {
			return 0, false
		}
		n := f.Pose.Orientation().RotationMatrix().Col(2)
		scatter.SymRankOne(scatter, 1, mat.NewVecDense(3, []float64{n.X, n.Y, n.Z}))
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, false); !ok {
		return 0, true
	}
	values := eig.Values(nil)
	if values[2] <= 0 {
		return 0, true
	}
	return values[0] / values[2], true
}

// ObservationErrors returns, for every point of every frame in order, the magnitude of its
// residual under the extrinsic: the distance from the target plane, or from its target point.
func ObservationErrors(frames []PlaneFrame, e ExtrinsicParameter) ([]float64, error) {
	blocks, numResiduals, err := newBlocks(frames)
	if err != nil {
		return nil, err
	}
	r := make([]float64, numResiduals)
	evaluate(blocks, e[:], r, nil)
	out := make([]float64, len(blocks))
	row := 0
	for i := range blocks {
		var sq float64
		for k := 0; k < blocks[i].size(); k++ {
			sq += r[row] * r[row]
			row++
		}
		out[i] = math.Sqrt(sq)
	}
	return out, nil
}

func component(v r3.Vector, k int) float64 {
	switch k {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
