package calibration

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/sensorcalib/leastsquares"
	"go.viam.com/sensorcalib/spatialmath"
)

// Quality grades a calibration by the RMS of its residuals.
type Quality string

// Quality grades.
const (
	// QualityExcellent is an RMS residual under 1 cm.
	QualityExcellent Quality = "excellent"
	// QualityGood is an RMS residual under 3 cm.
	QualityGood Quality = "good"
	// QualityFair is an RMS residual under 5 cm; consider recalibrating.
	QualityFair Quality = "fair"
	// QualityPoor is anything worse.
	QualityPoor Quality = "poor"
	// QualityUnknown is a run that never solved.
	QualityUnknown Quality = "unknown"
)

const (
	excellentRMS = 0.01
	goodRMS      = 0.03
	fairRMS      = 0.05
)

// GradeRMS returns the quality of a calibration with the given RMS residual in meters.
func GradeRMS(rms float64) Quality {
	switch {
	case math.IsNaN(rms):
		return QualityUnknown
	case rms < excellentRMS:
		return QualityExcellent
	case rms < goodRMS:
		return QualityGood
	case rms < fairRMS:
		return QualityFair
	default:
		return QualityPoor
	}
}

// ResidualStats summarizes the per-point residual magnitudes, in meters.
type ResidualStats struct {
	Count  int     `json:"count"`
	RMS    float64 `json:"rms"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// NewResidualStats summarizes residual magnitudes.
func NewResidualStats(residuals []float64) (ResidualStats, error) {
	if len(residuals) == 0 {
		return ResidualStats{}, errors.New("no residuals to summarize")
	}
	abs := lo.Map(residuals, func(r float64, _ int) float64 { return math.Abs(r) })
	squares := lo.Map(abs, func(r float64, _ int) float64 { return r * r })
	out := ResidualStats{Count: len(abs)}
	meanSquare, err := stats.Mean(squares)
	out.RMS = math.Sqrt(meanSquare)
	var errs [4]error
	out.Mean, errs[0] = stats.Mean(abs)
	out.Median, errs[1] = stats.Median(abs)
	out.P95, errs[2] = stats.Percentile(abs, 95)
	out.Max, errs[3] = stats.Max(abs)
	return out, multierr.Combine(err, errs[0], errs[1], errs[2], errs[3])
}

// FrameReport is what happened to one input frame.
type FrameReport struct {
	Index int `json:"index"`
	// Success is true when the target pose was accepted.
	Success bool `json:"success"`
	// Used is true when the frame contributed residuals to the final solve.
	Used bool `json:"used"`
	// TargetPose is the target's pose in the camera, or in the first camera for camera pairs.
	TargetPose *ExtrinsicParameter `json:"target_pose,omitempty"`
	// SecondTargetPose is the target's pose in the second camera.
	SecondTargetPose  *ExtrinsicParameter `json:"second_target_pose,omitempty"`
	ReprojectionError float64             `json:"reprojection_error_px"`
	Points            int                 `json:"points"`
	Error             string              `json:"error,omitempty"`

	err error
}

// Err returns the error that excluded or flagged the frame, if any.
func (r *FrameReport) Err() error {
	return r.err
}

func (r *FrameReport) setErr(err error) {
	r.err = multierr.Append(r.err, err)
	if r.err != nil {
		r.Error = r.err.Error()
	}
}

// Result is the outcome of a calibration run.
type Result struct {
	ID   uuid.UUID `json:"id"`
	Mode Mode      `json:"mode"`
	// Extrinsic maps the first sensor's frame into the second's.
	Extrinsic ExtrinsicParameter `json:"extrinsic"`
	// Matrix is Extrinsic as a column-major homogeneous transform.
	Matrix    mgl64.Mat4            `json:"matrix"`
	Summary   *leastsquares.Summary `json:"summary,omitempty"`
	Residuals ResidualStats         `json:"residuals"`
	Quality   Quality               `json:"quality"`
	Frames    []FrameReport         `json:"frames"`
	Warnings  []string              `json:"warnings,omitempty"`

	warnings error
}

// Pose returns the extrinsic as a pose.
func (r *Result) Pose() spatialmath.Pose {
	return r.Extrinsic.Pose()
}

// Warning returns the run-level warnings combined into one error, or nil.
func (r *Result) Warning() error {
	return r.warnings
}

func (r *Result) warn(err error) {
	if err == nil {
		return
	}
	r.warnings = multierr.Append(r.warnings, err)
	r.Warnings = lo.Map(multierr.Errors(r.warnings), func(e error, _ int) string { return e.Error() })
}

func (r *Result) setExtrinsic(e ExtrinsicParameter) {
	r.Extrinsic = e
	r.Matrix = spatialmath.PoseToMatrix(e.Pose())
}
