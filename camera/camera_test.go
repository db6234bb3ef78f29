package camera

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testOmniParams() OmniPolynomial {
	return OmniPolynomial{
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

func testOmni(t *testing.T) *OmniPolynomial {
	t.Helper()
	m, err := NewOmniPolynomial(testOmniParams())
	test.That(t, err, test.ShouldBeNil)
	return m
}

// rays returns directions up to maxAngle from the optical axis, all around it.
func rays(maxAngle float64) []r3.Vector {
	var out []r3.Vector
	for i := 0; i <= 6; i++ {
		theta := maxAngle * float64(i) / 6
		for j := 0; j < 12; j++ {
			phi := 2 * math.Pi * float64(j) / 12
			out = append(out, r3.Vector{
				X: math.Sin(theta) * math.Cos(phi),
				Y: math.Sin(theta) * math.Sin(phi),
				Z: math.Cos(theta),
			})
		}
	}
	return out
}

func TestOmniRayRoundTrip(t *testing.T) {
	m := testOmni(t)
	test.That(t, len(m.InversePolynomial), test.ShouldEqual, DefaultInverseDegree+1)
	for _, ray := range rays(65 * math.Pi / 180) {
		for _, depth := range []float64{0.5, 3, 40} {
			px := m.WorldToPixel(ray.Mul(depth))
			back := m.PixelToWorld(px)
			test.That(t, back.Norm(), test.ShouldAlmostEqual, 1.0)
			test.That(t, RayAngle(back, ray), test.ShouldBeLessThan, 1e-3)
		}
	}
}

func TestOmniPixelRoundTrip(t *testing.T) {
	m := testOmni(t)
	for r := 0.0; r <= 300; r += 25 {
		for j := 0; j < 8; j++ {
			phi := 2 * math.Pi * float64(j) / 8
			px := r2.Point{X: m.Ppx + r*math.Cos(phi), Y: m.Ppy + r*math.Sin(phi)}
			back := m.WorldToPixel(m.PixelToWorld(px))
			test.That(t, back.Sub(px).Norm(), test.ShouldBeLessThan, 0.1)
		}
	}
}

func TestOmniAxes(t *testing.T) {
	m := testOmni(t)
	center := m.WorldToPixel(r3.Vector{Z: 5})
	test.That(t, center, test.ShouldResemble, r2.Point{X: m.Ppx, Y: m.Ppy})

	ray := m.PixelToWorld(r2.Point{X: m.Ppx, Y: m.Ppy})
	test.That(t, ray.X, test.ShouldAlmostEqual, 0)
	test.That(t, ray.Y, test.ShouldAlmostEqual, 0)
	test.That(t, ray.Z, test.ShouldAlmostEqual, 1)

	right := m.WorldToPixel(r3.Vector{X: 1, Z: 2})
	test.That(t, right.X, test.ShouldBeGreaterThan, m.Ppx+50)
	test.That(t, math.Abs(right.Y-m.Ppy), test.ShouldBeLessThan, 1)

	down := m.WorldToPixel(r3.Vector{Y: 1, Z: 2})
	test.That(t, down.Y, test.ShouldBeGreaterThan, m.Ppy+50)
	test.That(t, math.Abs(down.X-m.Ppx), test.ShouldBeLessThan, 1)
}

func TestOmniSuppliedInverse(t *testing.T) {
	params := testOmniParams()
	params.InversePolynomial = []float64{100, 10}
	m, err := NewOmniPolynomial(params)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.InversePolynomial, test.ShouldResemble, []float64{100, 10})

	// the model does not alias the caller's slices
	params.InversePolynomial[0] = 0
	test.That(t, m.InversePolynomial[0], test.ShouldEqual, 100)
}

func TestOmniInvalid(t *testing.T) {
	params := testOmniParams()
	params.Width = 0
	_, err := NewOmniPolynomial(params)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)

	params = testOmniParams()
	params.Polynomial = []float64{257, 0, 1e-3}
	_, err = NewOmniPolynomial(params)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)

	params = testOmniParams()
	params.C, params.D, params.E = 1, 1, 1
	_, err = NewOmniPolynomial(params)
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)

	var nilModel *OmniPolynomial
	test.That(t, nilModel.CheckValid(), test.ShouldWrap, ErrNoIntrinsics)
}

func TestFitInversePolynomial(t *testing.T) {
	_, err := FitInversePolynomial([]float64{-100, 0, -0.01}, 500, 8)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not invertible")

	_, err = FitInversePolynomial([]float64{-100}, 500, 8)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FitInversePolynomial([]float64{-100, 0, 1e-3}, 0, 8)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FitInversePolynomial([]float64{-100, 0, 1e-3}, 500, 0)
	test.That(t, err, test.ShouldNotBeNil)

	// a pure pinhole-like forward polynomial z = -f has the inverse r = f*tan(theta + pi/2)
	f := 300.0
	inv, err := FitInversePolynomial([]float64{-f, 0}, 200, 10)
	test.That(t, err, test.ShouldBeNil)
	for _, r := range []float64{0, 50, 120, 200} {
		theta := math.Atan2(-f, r)
		test.That(t, polyval(inv, theta), test.ShouldAlmostEqual, r, 1e-2)
	}
}

func TestPinhole(t *testing.T) {
	m, err := NewUnified(Unified{Width: 640, Height: 480, Fx: 500, Fy: 510, Ppx: 320, Ppy: 240})
	test.That(t, err, test.ShouldBeNil)

	p := r3.Vector{X: 0.3, Y: -0.2, Z: 2}
	px := m.WorldToPixel(p)
	test.That(t, px.X, test.ShouldAlmostEqual, 500*0.3/2+320)
	test.That(t, px.Y, test.ShouldAlmostEqual, 510*-0.2/2+240)

	ray := m.PixelToWorld(px)
	test.That(t, RayAngle(ray, p), test.ShouldBeLessThan, 1e-9)
	test.That(t, m.WorldToPixel(r3.Vector{Z: 1}), test.ShouldResemble, r2.Point{X: 320, Y: 240})
}

func TestUnifiedRoundTrip(t *testing.T) {
	distortion, err := NewBrownConrady([]float64{-0.2, 0.05, 0, 1e-3, -5e-4})
	test.That(t, err, test.ShouldBeNil)
	for _, xi := range []float64{0, 0.9} {
		m, err := NewUnified(Unified{
			Width: 1280, Height: 1024, Fx: 800, Fy: 800, Ppx: 640, Ppy: 512,
			Xi: xi, Distortion: distortion,
		})
		test.That(t, err, test.ShouldBeNil)
		for _, ray := range rays(40 * math.Pi / 180) {
			back := m.PixelToWorld(m.WorldToPixel(ray.Mul(2.5)))
			test.That(t, RayAngle(back, ray), test.ShouldBeLessThan, 1e-8)
		}
	}
}

func TestBrownConrady(t *testing.T) {
	_, err := NewBrownConrady(make([]float64, 6))
	test.That(t, err, test.ShouldNotBeNil)

	bc, err := NewBrownConrady([]float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0.1, 0, 0, 0, 0})

	xd, yd := bc.Distort(0.2, -0.1)
	xu, yu := bc.Undistort(xd, yd)
	test.That(t, xu, test.ShouldAlmostEqual, 0.2)
	test.That(t, yu, test.ShouldAlmostEqual, -0.1)

	var none *BrownConrady
	x, y := none.Distort(0.2, 0.3)
	test.That(t, x, test.ShouldEqual, 0.2)
	test.That(t, y, test.ShouldEqual, 0.3)
	test.That(t, none.Parameters(), test.ShouldResemble, []float64{})
}

func TestUnifiedInvalid(t *testing.T) {
	_, err := NewUnified(Unified{Width: 640, Height: 480, Fx: 0, Fy: 500})
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)
	_, err = NewUnified(Unified{Width: 640, Height: 480, Fx: 500, Fy: 500, Xi: -1})
	test.That(t, err, test.ShouldWrap, ErrNoIntrinsics)
}

func TestConfig(t *testing.T) {
	err := (&Config{}).Validate("cameras.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"width_px" is required`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"height_px" is required`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"type" is required`)

	err = (&Config{Type: OmnidirectionalType, Width: 10, Height: 10}).Validate("cam")
	test.That(t, err.Error(), test.ShouldContainSubstring, `"polynomial" is required`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"c" is required`)

	err = (&Config{Type: PinholeType, Width: 10, Height: 10, Fx: 1, Fy: 1, Xi: 0.5}).Validate("cam")
	test.That(t, err.Error(), test.ShouldContainSubstring, "no xi")

	err = (&Config{Type: "fisheye", Width: 10, Height: 10}).Validate("cam")
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown camera type")

	var nilCfg *Config
	test.That(t, nilCfg.Validate("cam"), test.ShouldNotBeNil)
}

func TestNewModel(t *testing.T) {
	params := testOmniParams()
	m, err := NewModel(&Config{
		Type: OmnidirectionalType, Width: params.Width, Height: params.Height,
		Ppx: params.Ppx, Ppy: params.Ppy, C: params.C, D: params.D, E: params.E,
		Polynomial: params.Polynomial,
	})
	test.That(t, err, test.ShouldBeNil)
	_, ok := m.(*OmniPolynomial)
	test.That(t, ok, test.ShouldBeTrue)

	m, err = NewModel(&Config{
		Type: PinholeType, Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
		Distortion: []float64{0.01, 0.001},
	})
	test.That(t, err, test.ShouldBeNil)
	u, ok := m.(*Unified)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u.Distortion.RadialK2, test.ShouldEqual, 0.001)

	_, err = NewModel(&Config{Type: UnifiedType, Width: 640, Height: 480, Fx: 500, Fy: 500, Distortion: make([]float64, 6)})
	test.That(t, err, test.ShouldNotBeNil)
}
