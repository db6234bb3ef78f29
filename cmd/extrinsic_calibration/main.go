// Package main calibrates the transform between a ranging sensor and a camera, or between two
// cameras, from recorded observations of an AprilGrid target.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/sensorcalib/calibration"
	"go.viam.com/sensorcalib/logging"
	"go.viam.com/sensorcalib/pointcloud"
	"go.viam.com/sensorcalib/target"
)

const (
	flagConfig   = "config"
	flagData     = "data"
	flagOut      = "out"
	flagDebug    = "debug"
	flagLogLevel = "log-level"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:      "extrinsic_calibration",
		Usage:     "estimate the rigid transform between two sensors from AprilGrid observations",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "calibration config `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagData,
				Aliases:  []string{"d"},
				Usage:    "recorded frames `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:    flagOut,
				Aliases: []string{"o"},
				Usage:   "write the result to `FILE` instead of stdout",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "one of debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			if c.Bool(flagDebug) {
				level = logging.DEBUG
			}
			// results may go to stdout, so logs go to stderr
			logger = logging.NewBlankLogger("extrinsic_calibration")
			logger.AddAppender(logging.NewWriterAppender(stderr))
			logger.SetLevel(level)
			return nil
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			out := c.App.Writer
			if path := c.String(flagOut); path != "" {
				//nolint:gosec
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer func() {
					if err := f.Close(); err != nil {
						logger.Errorw("cannot close result file", "error", err)
					}
				}()
				out = f
			}
			return calibrate(ctx, c.String(flagConfig), c.String(flagData), out, logger)
		},
	}
}

// calibrate runs the calibration the config describes over the recorded frames and writes the
// result as JSON. A result is written whenever one is produced, even if the run failed.
func calibrate(ctx context.Context, configPath, dataPath string, out io.Writer, logger logging.Logger) error {
	cfg, err := readConfig(configPath)
	if err != nil {
		return err
	}
	data, err := readData(dataPath, *cfg.Target)
	if err != nil {
		return err
	}
	calibrator, err := calibration.NewCalibrator(cfg, logger)
	if err != nil {
		return err
	}

	var result *calibration.Result
	switch cfg.Mode {
	case calibration.RangeCameraMode:
		result, err = calibrator.CalibrateRangeCamera(ctx, data.rangeFrames, nil)
	case calibration.CameraPairMode:
		result, err = calibrator.CalibrateCameraPair(ctx, data.pairFrames, nil)
	}
	if result == nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return multierr.Combine(err, errors.Wrap(enc.Encode(result), "cannot write result"))
}

func readConfig(path string) (*calibration.Config, error) {
	//nolint:gosec
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg calibration.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %s", path)
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// observation is a detected corner as recorded. Target defaults to the corner's position on the grid.
type observation struct {
	ID     int        `json:"id"`
	Target *r3.Vector `json:"target,omitempty"`
	Pixel  r2.Point   `json:"pixel"`
}

// recordedFrame is one frame of either mode. Ranging points are given inline or in a pcd file,
// relative to the data file.
type recordedFrame struct {
	Correspondences []observation     `json:"correspondences,omitempty"`
	Points          pointcloud.Points `json:"points,omitempty"`
	PCD             string            `json:"pcd,omitempty"`

	First  []observation `json:"first,omitempty"`
	Second []observation `json:"second,omitempty"`
}

type recording struct {
	Frames []recordedFrame `json:"frames"`
}

type dataset struct {
	rangeFrames []calibration.FrameBundle
	pairFrames  []calibration.PairBundle
}

func readData(path string, grid target.AprilGrid) (*dataset, error) {
	//nolint:gosec
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec recording
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrapf(err, "cannot parse data %s", path)
	}
	data := &dataset{
		rangeFrames: make([]calibration.FrameBundle, len(rec.Frames)),
		pairFrames:  make([]calibration.PairBundle, len(rec.Frames)),
	}
	for i, f := range rec.Frames {
		var errs [3]error
		rf := &data.rangeFrames[i]
		rf.Correspondences, errs[0] = correspondences(f.Correspondences, grid)
		data.pairFrames[i].First, errs[1] = correspondences(f.First, grid)
		data.pairFrames[i].Second, errs[2] = correspondences(f.Second, grid)
		if err := multierr.Combine(errs[:]...); err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}

		rf.Points = f.Points
		if f.PCD != "" {
			pcdPath := f.PCD
			if !filepath.IsAbs(pcdPath) {
				pcdPath = filepath.Join(filepath.Dir(path), pcdPath)
			}
			pts, err := pointcloud.NewFromFile(pcdPath)
			if err != nil {
				return nil, errors.Wrapf(err, "frame %d", i)
			}
			rf.Points = append(rf.Points, pts...)
		}
	}
	return data, nil
}

func correspondences(obs []observation, grid target.AprilGrid) ([]target.Correspondence, error) {
	out := make([]target.Correspondence, len(obs))
	for i, o := range obs {
		out[i] = target.Correspondence{ID: o.ID, Pixel: o.Pixel}
		if o.Target != nil {
			out[i].Target = *o.Target
			continue
		}
		p, err := grid.Corner(o.ID)
		if err != nil {
			return nil, err
		}
		out[i].Target = p
	}
	return out, nil
}
