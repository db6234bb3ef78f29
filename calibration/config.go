package calibration

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/sensorcalib/camera"
	"go.viam.com/sensorcalib/leastsquares"
	"go.viam.com/sensorcalib/target"
)

// Mode selects which pair of sensors is calibrated.
type Mode string

const (
	// RangeCameraMode calibrates a ranging sensor against a camera from point-to-plane residuals.
	RangeCameraMode Mode = "range_camera"
	// CameraPairMode calibrates a camera against another camera from point-to-point residuals.
	CameraPairMode Mode = "camera_pair"
)

// Default pipeline settings.
const (
	DefaultTargetDepth = 0.05
)

// Config describes a calibration run.
type Config struct {
	Mode Mode `json:"mode"`
	// Camera is the camera in range_camera mode and the first camera in camera_pair mode.
	Camera *camera.Config `json:"camera"`
	// SecondCamera is required in camera_pair mode.
	SecondCamera *camera.Config    `json:"second_camera,omitempty"`
	Target       *target.AprilGrid `json:"target"`
	// TargetMargin is added around the grid when culling points. Defaults to two tag sizes.
	TargetMargin float64 `json:"target_margin_m,omitempty"`
	TargetDepth  float64 `json:"target_depth_m,omitempty"`
	// Seed is the starting extrinsic. Required in range_camera mode unless passed to the run.
	Seed *ExtrinsicParameter `json:"seed,omitempty"`

	Pose   target.PoseOptions    `json:"pose"`
	Solver leastsquares.Settings `json:"solver"`

	MinFrames int `json:"min_frames,omitempty"`
	// Workers bounds the frames processed at once. Defaults to GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
	// RecullRounds re-selects the points on the target with the refined extrinsic and solves
	// again, this many times.
	RecullRounds int `json:"recull_rounds,omitempty"`
	// KeepLowConfidence keeps frames whose target pose missed the reprojection threshold.
	KeepLowConfidence bool `json:"keep_low_confidence,omitempty"`
}

func newFieldRequiredError(path, field string) error {
	return errors.Errorf("error validating %q: %q is required", path, field)
}

func newFieldNegativeError(path, field string) error {
	return errors.Errorf("error validating %q: %q must not be negative", path, field)
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg == nil {
		return newFieldRequiredError(path, "config")
	}
	var err error
	switch cfg.Mode {
	case RangeCameraMode:
	case CameraPairMode:
		if cfg.SecondCamera == nil {
			err = multierr.Append(err, newFieldRequiredError(path, "second_camera"))
		} else {
			err = multierr.Append(err, cfg.SecondCamera.Validate(path+".second_camera"))
		}
	case "":
		err = multierr.Append(err, newFieldRequiredError(path, "mode"))
	default:
		err = multierr.Append(err, errors.Errorf("error validating %q: unknown mode %q", path, cfg.Mode))
	}
	if cfg.Camera == nil {
		err = multierr.Append(err, newFieldRequiredError(path, "camera"))
	} else {
		err = multierr.Append(err, cfg.Camera.Validate(path+".camera"))
	}
	if cfg.Target == nil {
		err = multierr.Append(err, newFieldRequiredError(path, "target"))
	} else {
		err = multierr.Append(err, cfg.Target.Validate(path+".target"))
	}
	if cfg.TargetMargin < 0 {
		err = multierr.Append(err, newFieldNegativeError(path, "target_margin_m"))
	}
	if cfg.TargetDepth < 0 {
		err = multierr.Append(err, newFieldNegativeError(path, "target_depth_m"))
	}
	if cfg.Pose.MaxRMSError < 0 {
		err = multierr.Append(err, newFieldNegativeError(path+".pose", "max_rms_error_px"))
	}
	if cfg.MinFrames < 0 {
		err = multierr.Append(err, newFieldNegativeError(path, "min_frames"))
	}
	if cfg.Workers < 0 {
		err = multierr.Append(err, newFieldNegativeError(path, "workers"))
	}
	if cfg.RecullRounds < 0 {
		err = multierr.Append(err, newFieldNegativeError(path, "recull_rounds"))
	}
	err = multierr.Append(err, cfg.Pose.Solver.Validate(path+".pose.solver"))
	err = multierr.Append(err, cfg.Solver.Validate(path+".solver"))
	return err
}

// applyDefaults fills unset fields. The config must be valid.
func (cfg *Config) applyDefaults() {
	if cfg.TargetMargin == 0 {
		cfg.TargetMargin = 2 * cfg.Target.TagSize
	}
	if cfg.TargetDepth == 0 {
		cfg.TargetDepth = DefaultTargetDepth
	}
	if cfg.MinFrames == 0 {
		cfg.MinFrames = DefaultMinFrames
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
}

// Geometry returns the target volume used for culling.
func (cfg *Config) Geometry() target.Geometry {
	return cfg.Target.Geometry(cfg.TargetMargin, cfg.TargetDepth)
}
