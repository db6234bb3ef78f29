package camera

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ModelType is the name of a camera projection model.
type ModelType string

const (
	// OmnidirectionalType is the Scaramuzza polynomial model.
	OmnidirectionalType = ModelType("omnidirectional")
	// UnifiedType is the unified projection model with mirror parameter xi.
	UnifiedType = ModelType("unified")
	// PinholeType is the unified model with xi fixed at zero.
	PinholeType = ModelType("pinhole")
)

// Config is the construction record of a camera model. Which fields apply depends on Type.
type Config struct {
	Type   ModelType `json:"type"`
	Width  int       `json:"width_px"`
	Height int       `json:"height_px"`
	Ppx    float64   `json:"ppx"`
	Ppy    float64   `json:"ppy"`

	// omnidirectional
	C                 float64   `json:"c,omitempty"`
	D                 float64   `json:"d,omitempty"`
	E                 float64   `json:"e,omitempty"`
	Polynomial        []float64 `json:"polynomial,omitempty"`
	InversePolynomial []float64 `json:"inverse_polynomial,omitempty"`

	// unified and pinhole
	Fx         float64   `json:"fx,omitempty"`
	Fy         float64   `json:"fy,omitempty"`
	Xi         float64   `json:"xi,omitempty"`
	Distortion []float64 `json:"distortion,omitempty"`
}

func newFieldRequiredError(path, field string) error {
	return errors.Errorf("error validating %q: %q is required", path, field)
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg == nil {
		return newFieldRequiredError(path, "camera")
	}
	var err error
	if cfg.Width <= 0 {
		err = multierr.Append(err, newFieldRequiredError(path, "width_px"))
	}
	if cfg.Height <= 0 {
		err = multierr.Append(err, newFieldRequiredError(path, "height_px"))
	}
	switch cfg.Type {
	case OmnidirectionalType:
		if len(cfg.Polynomial) == 0 {
			err = multierr.Append(err, newFieldRequiredError(path, "polynomial"))
		}
		if cfg.C == 0 {
			err = multierr.Append(err, newFieldRequiredError(path, "c"))
		}
	case UnifiedType, PinholeType:
		if cfg.Fx <= 0 {
			err = multierr.Append(err, newFieldRequiredError(path, "fx"))
		}
		if cfg.Fy <= 0 {
			err = multierr.Append(err, newFieldRequiredError(path, "fy"))
		}
		if cfg.Type == PinholeType && cfg.Xi != 0 {
			err = multierr.Append(err, errors.Errorf("error validating %q: pinhole cameras have no xi", path))
		}
		if len(cfg.Distortion) > 5 {
			err = multierr.Append(err, errors.Errorf("error validating %q: at most 5 distortion parameters", path))
		}
	case "":
		err = multierr.Append(err, newFieldRequiredError(path, "type"))
	default:
		err = multierr.Append(err, errors.Errorf("error validating %q: unknown camera type %q", path, cfg.Type))
	}
	return err
}

// NewModel builds the camera model described by cfg.
func NewModel(cfg *Config) (Model, error) {
	if err := cfg.Validate("camera"); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case OmnidirectionalType:
		m, err := NewOmniPolynomial(OmniPolynomial{
			Width:             cfg.Width,
			Height:            cfg.Height,
			Ppx:               cfg.Ppx,
			Ppy:               cfg.Ppy,
			C:                 cfg.C,
			D:                 cfg.D,
			E:                 cfg.E,
			Polynomial:        cfg.Polynomial,
			InversePolynomial: cfg.InversePolynomial,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		var distortion *BrownConrady
		if len(cfg.Distortion) > 0 {
			d, err := NewBrownConrady(cfg.Distortion)
			if err != nil {
				return nil, err
			}
			distortion = d
		}
		m, err := NewUnified(Unified{
			Width:      cfg.Width,
			Height:     cfg.Height,
			Fx:         cfg.Fx,
			Fy:         cfg.Fy,
			Ppx:        cfg.Ppx,
			Ppy:        cfg.Ppy,
			Xi:         cfg.Xi,
			Distortion: distortion,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
