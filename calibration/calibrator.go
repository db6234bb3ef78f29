package calibration

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/sensorcalib/camera"
	"go.viam.com/sensorcalib/leastsquares"
	"go.viam.com/sensorcalib/logging"
	"go.viam.com/sensorcalib/pointcloud"
	"go.viam.com/sensorcalib/spatialmath"
	"go.viam.com/sensorcalib/target"
)

// FrameBundle is one synchronized range camera frame: the fiducials the camera detected and the
// ranging sensor's raw points.
type FrameBundle struct {
	Correspondences []target.Correspondence `json:"correspondences"`
	Points          pointcloud.Points       `json:"points"`
}

// PairBundle is one synchronized frame of two cameras.
type PairBundle struct {
	First  []target.Correspondence `json:"first"`
	Second []target.Correspondence `json:"second"`
}

// Calibrator runs calibrations for one sensor setup. It is safe for concurrent use.
type Calibrator struct {
	cfg      Config
	geometry target.Geometry
	first    camera.Model
	second   camera.Model
	logger   logging.Logger
}

// NewCalibrator validates the config and builds the camera models it describes.
func NewCalibrator(cfg *Config, logger logging.Logger) (*Calibrator, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewLogger("calibration")
	}
	c := &Calibrator{cfg: *cfg, logger: logger}
	c.cfg.applyDefaults()
	c.geometry = c.cfg.Geometry()
	if err := c.geometry.Validate("config.target"); err != nil {
		return nil, err
	}

	var err error
	if c.first, err = camera.NewModel(c.cfg.Camera); err != nil {
		return nil, errors.Wrap(err, "cannot build camera model")
	}
	if c.cfg.Mode == CameraPairMode {
		if c.second, err = camera.NewModel(c.cfg.SecondCamera); err != nil {
			return nil, errors.Wrap(err, "cannot build second camera model")
		}
	}
	return c, nil
}

func (c *Calibrator) poseOptions() target.PoseOptions {
	opts := c.cfg.Pose
	opts.Logger = c.logger.Sublogger("pose")
	return opts
}

func (c *Calibrator) refineOptions() RefineOptions {
	return RefineOptions{
		Solver:    c.cfg.Solver,
		MinFrames: c.cfg.MinFrames,
		Logger:    c.logger.Sublogger("refine"),
	}
}

// forEachFrame calls fn for every frame index with at most Workers calls running at once.
// It stops starting new frames once ctx is done.
func (c *Calibrator) forEachFrame(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// estimate finds the target pose in one camera and records the outcome in report. It returns
// the pose, which may be nil, and whether the frame can be used.
func (c *Calibrator) estimate(model camera.Model, corr []target.Correspondence, report *FrameReport) (spatialmath.Pose, bool) {
	est, err := target.EstimatePose(model, corr, c.poseOptions())
	report.setErr(err)
	if est == nil {
		return nil, false
	}
	report.ReprojectionError = max(report.ReprojectionError, est.RMSError)
	return est.Pose, est.Success || c.cfg.KeepLowConfidence
}

func (c *Calibrator) logFrames(reports []FrameReport) {
	for _, r := range reports {
		if r.err != nil {
			c.logger.Warnw("frame problem", "frame", r.Index, "used", r.Used, "error", r.err)
		}
	}
}

// CalibrateRangeCamera estimates the transform from the ranging sensor's frame to the camera's.
// For each frame the target pose is estimated from the camera's correspondences and the raw points
// on the target are selected with the seed extrinsic; frames are processed in parallel. The
// extrinsic is then refined over the points of every usable frame.
//
// seed overrides the config's seed. When too few frames are usable the result holds the seed and
// the frame reports, and the error wraps ErrDegenerateGeometry. Non-fatal run problems are
// returned in Result.Warning.
func (c *Calibrator) CalibrateRangeCamera(ctx context.Context, frames []FrameBundle, seed *ExtrinsicParameter) (*Result, error) {
	if seed == nil {
		seed = c.cfg.Seed
	}
	if seed == nil {
		return nil, errors.New("range camera calibration needs a seed extrinsic")
	}
	result := &Result{ID: uuid.New(), Mode: RangeCameraMode, Quality: QualityUnknown, Frames: make([]FrameReport, len(frames))}
	result.setExtrinsic(*seed)
	logger := c.logger.Sublogger(result.ID.String())
	logger.Infow("starting range camera calibration", "frames", len(frames))

	seedPose := seed.Pose()
	poses := make([]spatialmath.Pose, len(frames))
	planes := make([]PlaneFrame, len(frames))
	err := c.forEachFrame(ctx, len(frames), func(i int) {
		report := &result.Frames[i]
		report.Index = i
		pose, ok := c.estimate(c.first, frames[i].Correspondences, report)
		if pose != nil {
			tp := NewExtrinsicParameter(pose)
			report.TargetPose = &tp
			report.Success = report.err == nil
		}
		if !ok {
			return
		}
		poses[i] = pose
		pts := target.SelectOnTarget(frames[i].Points, pose, seedPose, c.geometry)
		report.Points = len(pts)
		if len(pts) == 0 {
			report.setErr(errors.Wrapf(target.ErrEmptyFilterResult, "none of %d points", len(frames[i].Points)))
			return
		}
		planes[i] = PlaneFrame{Points: pts, Pose: pose}
	})
	if err != nil {
		return nil, err
	}

	refined, summary, err := Refine(planes, *seed, c.refineOptions())
	for round := 1; round <= c.cfg.RecullRounds && summary != nil; round++ {
		current := refined.Pose()
		reculled := make([]PlaneFrame, len(planes))
		for i, pose := range poses {
			if pose != nil {
				reculled[i] = PlaneFrame{Points: target.SelectOnTarget(frames[i].Points, pose, current, c.geometry), Pose: pose}
			}
		}
		r, s, e := Refine(reculled, refined, c.refineOptions())
		if s == nil {
			logger.Warnw("keeping previous solve, recull left too little", "round", round, "error", e)
			break
		}
		logger.Debugw("reculled target points", "round", round, "cost", s.FinalCost)
		planes, refined, summary, err = reculled, r, s, e
		for i := range planes {
			result.Frames[i].Points = len(planes[i].Points)
		}
	}
	return c.finish(logger, result, planes, refined, summary, err)
}

// CalibrateCameraPair estimates the transform from the first camera's frame to the second's.
// For each frame the target pose is estimated in both cameras; the target points the first
// camera saw, mapped through both poses, become point-to-point residuals. Without a seed the
// relative poses of the frames are averaged to start from.
func (c *Calibrator) CalibrateCameraPair(ctx context.Context, frames []PairBundle, seed *ExtrinsicParameter) (*Result, error) {
	if c.second == nil {
		return nil, errors.Errorf("calibrator is configured for %s, not %s", c.cfg.Mode, CameraPairMode)
	}
	if seed == nil {
		seed = c.cfg.Seed
	}
	result := &Result{ID: uuid.New(), Mode: CameraPairMode, Quality: QualityUnknown, Frames: make([]FrameReport, len(frames))}
	logger := c.logger.Sublogger(result.ID.String())
	logger.Infow("starting camera pair calibration", "frames", len(frames))

	relative := make([]spatialmath.Pose, len(frames))
	planes := make([]PlaneFrame, len(frames))
	err := c.forEachFrame(ctx, len(frames), func(i int) {
		report := &result.Frames[i]
		report.Index = i
		first, ok1 := c.estimate(c.first, frames[i].First, report)
		second, ok2 := c.estimate(c.second, frames[i].Second, report)
		if first != nil {
			tp := NewExtrinsicParameter(first)
			report.TargetPose = &tp
		}
		if second != nil {
			tp := NewExtrinsicParameter(second)
			report.SecondTargetPose = &tp
		}
		report.Success = first != nil && second != nil && report.err == nil
		if !ok1 || !ok2 {
			return
		}
		targetPoints := target.TargetPoints(frames[i].First)
		planes[i] = PlaneFrame{
			Points:       pointcloud.Points(targetPoints).Transform(first),
			Pose:         second,
			TargetPoints: targetPoints,
		}
		report.Points = len(targetPoints)
		relative[i] = spatialmath.Compose(second, spatialmath.PoseInverse(first))
	})
	if err != nil {
		return nil, err
	}

	if seed == nil {
		usable := lo.Filter(relative, func(p spatialmath.Pose, _ int) bool { return p != nil })
		if len(usable) == 0 {
			result.setExtrinsic(NewExtrinsicParameter(spatialmath.NewZeroPose()))
			return c.finish(logger, result, planes, result.Extrinsic, nil,
				errors.Wrap(ErrDegenerateGeometry, "no frame has a target pose in both cameras"))
		}
		averaged := NewExtrinsicParameter(averagePose(usable))
		seed = &averaged
		logger.Debugw("seeded from averaged relative poses", "frames", len(usable), "seed", averaged)
	}
	result.setExtrinsic(*seed)
	refined, summary, err := Refine(planes, *seed, c.refineOptions())
	return c.finish(logger, result, planes, refined, summary, err)
}

// finish records the solve in the result. A nil summary means nothing was solved and err is fatal.
func (c *Calibrator) finish(
	logger logging.Logger,
	result *Result,
	planes []PlaneFrame,
	refined ExtrinsicParameter,
	summary *leastsquares.Summary,
	err error,
) (*Result, error) {
	for i := range result.Frames {
		result.Frames[i].Used = len(planes[i].Points) > 0
	}
	c.logFrames(result.Frames)
	if summary == nil {
		result.warn(err)
		logger.Errorw("calibration not solved", "error", err)
		return result, err
	}
	result.Summary = summary
	result.setExtrinsic(refined)
	result.warn(err)

	residuals, err := ObservationErrors(planes, refined)
	if err != nil {
		return result, err
	}
	if result.Residuals, err = NewResidualStats(residuals); err != nil {
		return result, err
	}
	result.Quality = GradeRMS(result.Residuals.RMS)
	if result.Quality == QualityFair || result.Quality == QualityPoor {
		result.warn(errors.Errorf("calibration quality is %s (rms %.4f m)", result.Quality, result.Residuals.RMS))
	}
	for _, w := range result.Warnings {
		logger.Warn(w)
	}
	logger.Infow("calibration finished",
		"quality", result.Quality,
		"rms", result.Residuals.RMS,
		"frames_used", lo.CountBy(result.Frames, func(r FrameReport) bool { return r.Used }),
		"iterations", summary.Iterations,
		"extrinsic", result.Extrinsic)
	return result, nil
}

// averagePose returns the chordal mean of the rotations and the mean of the translations.
func averagePose(poses []spatialmath.Pose) spatialmath.Pose {
	first := poses[0].Orientation().Quaternion()
	var sum quat.Number
	var t r3.Vector
	for _, p := range poses {
		q := p.Orientation().Quaternion()
		if dot(q, first) < 0 {
			q = quat.Scale(-1, q)
		}
		sum = quat.Add(sum, q)
		t = t.Add(p.Point())
	}
	return spatialmath.NewPose(t.Mul(1/float64(len(poses))), spatialmath.NewQuaternion(spatialmath.Normalize(sum)))
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}
