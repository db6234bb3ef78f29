package calibration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/sensorcalib/camera"
	"go.viam.com/sensorcalib/logging"
	"go.viam.com/sensorcalib/pointcloud"
	"go.viam.com/sensorcalib/spatialmath"
	"go.viam.com/sensorcalib/target"
)

func omniConfig() *camera.Config {
	return &camera.Config{
		Type:       camera.OmnidirectionalType,
		Width:      1050,
		Height:     1050,
		Ppx:        532.425687,
		Ppy:        517.382409,
		C:          1.000805,
		D:          0.000125,
		E:          2.52e-4,
		Polynomial: []float64{-2.575876e+02, 0.000000e+00, 2.283578e-04, 8.908668e-06, -2.621133e-08, 3.037693e-11},
	}
}

func pinholeConfig() *camera.Config {
	return &camera.Config{Type: camera.PinholeType, Width: 1280, Height: 960, Fx: 900, Fy: 900, Ppx: 640, Ppy: 480}
}

func rangeConfig() *Config {
	grid := testGrid
	seed := shifted(truth, ExtrinsicParameter{0.01, -0.01, 0.005, 0.02, -0.01, 0.01}, 1)
	return &Config{
		Mode:    RangeCameraMode,
		Camera:  omniConfig(),
		Target:  &grid,
		Seed:    &seed,
		Workers: 3,
	}
}

func newTestCalibrator(t *testing.T, cfg *Config) *Calibrator {
	t.Helper()
	c, err := NewCalibrator(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return c
}

// observe projects every grid corner seen with the target at pose.
func observe(t *testing.T, model camera.Model, pose spatialmath.Pose) []target.Correspondence {
	t.Helper()
	corr := make([]target.Correspondence, testGrid.NumCorners())
	for id := range corr {
		p, err := testGrid.Corner(id)
		test.That(t, err, test.ShouldBeNil)
		corr[id] = target.Correspondence{ID: id, Target: p, Pixel: model.WorldToPixel(spatialmath.TransformPoint(pose, p))}
	}
	return corr
}

// clutter returns points off the target: behind it, in front of it and beside it.
func clutter() []r3.Vector {
	g := testGrid.Geometry(0, 0)
	var out []r3.Vector
	for i := 0; i < 10; i++ {
		f := float64(i) / 9
		out = append(out,
			r3.Vector{X: f * g.Width, Y: 0.5 * g.Height, Z: 2},
			r3.Vector{X: 0.5 * g.Width, Y: f * g.Height, Z: -1.5},
			r3.Vector{X: g.Width + 0.5, Y: f * g.Height},
		)
	}
	return out
}

func rangeFrames(t *testing.T, c *Calibrator) []FrameBundle {
	t.Helper()
	return lo.Map(targetPoses(), func(pose spatialmath.Pose, _ int) FrameBundle {
		return FrameBundle{
			Correspondences: observe(t, c.first, pose),
			Points:          inRangeFrame(pose, append(planePoints(), clutter()...)),
		}
	})
}

func TestCalibrateRangeCamera(t *testing.T) {
	for _, rounds := range []int{0, 1} {
		cfg := rangeConfig()
		cfg.RecullRounds = rounds
		c := newTestCalibrator(t, cfg)
		frames := rangeFrames(t, c)
		poses := targetPoses()

		// too few fiducials, and a frame whose ranging points all miss the target
		frames = append(frames,
			FrameBundle{Correspondences: frames[0].Correspondences[:3], Points: frames[0].Points},
			FrameBundle{Correspondences: frames[1].Correspondences, Points: inRangeFrame(poses[1], clutter())},
		)

		result, err := c.CalibrateRangeCamera(context.Background(), frames, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Warning(), test.ShouldBeNil)
		test.That(t, result.Warnings, test.ShouldBeEmpty)
		test.That(t, result.ID.String(), test.ShouldNotBeEmpty)
		test.That(t, result.Mode, test.ShouldEqual, RangeCameraMode)
		test.That(t, result.Quality, test.ShouldEqual, QualityExcellent)
		test.That(t, result.Summary.Converged, test.ShouldBeTrue)
		test.That(t, result.Residuals.Count, test.ShouldEqual, 6*len(planePoints()))
		test.That(t, result.Residuals.Max, test.ShouldBeLessThan, 1e-5)
		extrinsicShouldEqual(t, result.Extrinsic, truth, 1e-5)
		test.That(t, result.Matrix, test.ShouldResemble, spatialmath.PoseToMatrix(result.Pose()))

		test.That(t, len(result.Frames), test.ShouldEqual, 8)
		for i, r := range result.Frames[:6] {
			test.That(t, r.Index, test.ShouldEqual, i)
			test.That(t, r.Success, test.ShouldBeTrue)
			test.That(t, r.Used, test.ShouldBeTrue)
			test.That(t, r.Err(), test.ShouldBeNil)
			test.That(t, r.Points, test.ShouldEqual, len(planePoints()))
			test.That(t, r.ReprojectionError, test.ShouldBeLessThan, 1e-3)
			test.That(t, spatialmath.PoseAlmostEqualEps(r.TargetPose.Pose(), poses[i], 1e-5), test.ShouldBeTrue)
		}

		short := result.Frames[6]
		test.That(t, short.Used, test.ShouldBeFalse)
		test.That(t, short.Success, test.ShouldBeFalse)
		test.That(t, short.TargetPose, test.ShouldBeNil)
		test.That(t, short.Err(), test.ShouldWrap, target.ErrInsufficientCorrespondences)
		test.That(t, short.Error, test.ShouldNotBeEmpty)

		missed := result.Frames[7]
		test.That(t, missed.Used, test.ShouldBeFalse)
		test.That(t, missed.Success, test.ShouldBeTrue)
		test.That(t, missed.Points, test.ShouldEqual, 0)
		test.That(t, missed.Err(), test.ShouldWrap, target.ErrEmptyFilterResult)
	}
}

func TestCalibrateRangeCameraDegenerate(t *testing.T) {
	c := newTestCalibrator(t, rangeConfig())
	frames := rangeFrames(t, c)[:1]
	seed := ExtrinsicParameter{0, 0, 0, 0.1, 0, 0}

	result, err := c.CalibrateRangeCamera(context.Background(), frames, &seed)
	test.That(t, err, test.ShouldWrap, ErrDegenerateGeometry)
	test.That(t, result.Extrinsic, test.ShouldResemble, seed)
	test.That(t, result.Quality, test.ShouldEqual, QualityUnknown)
	test.That(t, result.Summary, test.ShouldBeNil)
	test.That(t, result.Warning(), test.ShouldWrap, ErrDegenerateGeometry)
	test.That(t, len(result.Frames), test.ShouldEqual, 1)

	cfg := rangeConfig()
	cfg.Seed = nil
	c = newTestCalibrator(t, cfg)
	_, err = c.CalibrateRangeCamera(context.Background(), frames, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "seed")

	_, err = c.CalibrateCameraPair(context.Background(), nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrateRangeCameraCanceled(t *testing.T) {
	c := newTestCalibrator(t, rangeConfig())
	frames := rangeFrames(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := c.CalibrateRangeCamera(ctx, frames, nil)
	test.That(t, err, test.ShouldWrap, context.Canceled)
	test.That(t, result, test.ShouldBeNil)
}

func TestCalibrateCameraPair(t *testing.T) {
	pairTruth := ExtrinsicParameter{0, 0.3, 0, -0.2, 0, 0.05}
	grid := testGrid
	cfg := &Config{Mode: CameraPairMode, Camera: omniConfig(), SecondCamera: pinholeConfig(), Target: &grid}
	c := newTestCalibrator(t, cfg)

	frames := lo.Map(targetPoses(), func(pose spatialmath.Pose, _ int) PairBundle {
		return PairBundle{
			First:  observe(t, c.first, pose),
			Second: observe(t, c.second, spatialmath.Compose(pairTruth.Pose(), pose)),
		}
	})
	frames = append(frames, PairBundle{First: frames[0].First})

	result, err := c.CalibrateCameraPair(context.Background(), frames, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Mode, test.ShouldEqual, CameraPairMode)
	test.That(t, result.Quality, test.ShouldEqual, QualityExcellent)
	test.That(t, result.Residuals.Count, test.ShouldEqual, 6*testGrid.NumCorners())
	test.That(t, result.Residuals.RMS, test.ShouldBeLessThan, 1e-5)
	extrinsicShouldEqual(t, result.Extrinsic, pairTruth, 1e-5)

	for _, r := range result.Frames[:6] {
		test.That(t, r.Used, test.ShouldBeTrue)
		test.That(t, r.TargetPose, test.ShouldNotBeNil)
		test.That(t, r.SecondTargetPose, test.ShouldNotBeNil)
	}
	last := result.Frames[6]
	test.That(t, last.Used, test.ShouldBeFalse)
	test.That(t, last.TargetPose, test.ShouldNotBeNil)
	test.That(t, last.SecondTargetPose, test.ShouldBeNil)
	test.That(t, last.Err(), test.ShouldWrap, target.ErrInsufficientCorrespondences)

	// no frame sees the target in both cameras
	result, err = c.CalibrateCameraPair(context.Background(), frames[6:], nil)
	test.That(t, err, test.ShouldWrap, ErrDegenerateGeometry)
	test.That(t, result.Quality, test.ShouldEqual, QualityUnknown)
}

func TestAveragePose(t *testing.T) {
	q := spatialmath.ExpMap(r3.Vector{Z: 0.1})
	poses := []spatialmath.Pose{
		spatialmath.NewPose(r3.Vector{X: 1}, spatialmath.NewQuaternion(q)),
		spatialmath.NewPose(r3.Vector{X: 3, Y: 2}, spatialmath.NewQuaternion(quat.Conj(q))),
		// the same rotation with the opposite sign
		spatialmath.NewPose(r3.Vector{X: 2, Y: -2}, spatialmath.NewQuaternion(quat.Scale(-1, spatialmath.ExpMap(r3.Vector{})))),
	}
	avg := averagePose(poses)
	test.That(t, avg.Point().Sub(r3.Vector{X: 2}).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, spatialmath.AngularDistance(avg.Orientation(), spatialmath.NewZeroOrientation()), test.ShouldBeLessThan, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	err := (&Config{}).Validate("config")
	test.That(t, err, test.ShouldNotBeNil)
	for _, field := range []string{`"mode" is required`, `"camera" is required`, `"target" is required`} {
		test.That(t, err.Error(), test.ShouldContainSubstring, field)
	}

	cfg := rangeConfig()
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)
	cfg.Mode = CameraPairMode
	cfg.Workers = -1
	cfg.TargetDepth = -0.1
	cfg.Target.Rows = 0
	err = cfg.Validate("config")
	test.That(t, err, test.ShouldNotBeNil)
	for _, field := range []string{"second_camera", "workers", "target_depth_m", "config.target"} {
		test.That(t, err.Error(), test.ShouldContainSubstring, field)
	}

	cfg = rangeConfig()
	cfg.Mode = "lidar"
	test.That(t, cfg.Validate("config").Error(), test.ShouldContainSubstring, "unknown mode")

	var missing *Config
	test.That(t, missing.Validate("config"), test.ShouldNotBeNil)
}

func TestNewCalibrator(t *testing.T) {
	c := newTestCalibrator(t, rangeConfig())
	test.That(t, c.cfg.TargetMargin, test.ShouldAlmostEqual, 2*testGrid.TagSize)
	test.That(t, c.cfg.TargetDepth, test.ShouldEqual, DefaultTargetDepth)
	test.That(t, c.cfg.MinFrames, test.ShouldEqual, DefaultMinFrames)
	test.That(t, c.cfg.Workers, test.ShouldEqual, 3)
	test.That(t, c.second, test.ShouldBeNil)
	test.That(t, c.geometry.Width, test.ShouldAlmostEqual, testGrid.Geometry(0, 0).Width)

	_, err := NewCalibrator(&Config{}, nil)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := rangeConfig()
	cfg.Camera.Polynomial = []float64{-100, 0, -0.01}
	_, err = NewCalibrator(cfg, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot build camera model")

	c, err = NewCalibrator(rangeConfig(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.logger, test.ShouldNotBeNil)
}

func TestSelectedPointsFollowSeed(t *testing.T) {
	// a seed far off the truth selects nothing from a frame that only holds the target
	pose := targetPoses()[0]
	pts := inRangeFrame(pose, planePoints())
	far := shifted(truth, ExtrinsicParameter{0, 0, 0, 0, 0, 1}, 1)
	g := rangeConfig().Target.Geometry(0.1, 0.05)
	test.That(t, target.SelectOnTarget(pts, pose, far.Pose(), g), test.ShouldBeEmpty)
	test.That(t, len(target.SelectOnTarget(pts, pose, truth.Pose(), g)), test.ShouldEqual, len(pts))
	test.That(t, pointcloud.Points(nil).Size(), test.ShouldEqual, 0)
}
