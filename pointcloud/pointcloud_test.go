package pointcloud

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sensorcalib/spatialmath"
)

func TestBoundingBox(t *testing.T) {
	bb := NewBoundingBox()
	test.That(t, bb.Empty(), test.ShouldBeTrue)

	pts := Points{{X: -1, Y: 2, Z: 0}, {X: 3, Y: -4, Z: 5}, {X: 0, Y: 0, Z: -1}}
	bb = pts.BoundingBox()
	test.That(t, bb.Empty(), test.ShouldBeFalse)
	test.That(t, bb.Min(), test.ShouldResemble, r3.Vector{X: -1, Y: -4, Z: -1})
	test.That(t, bb.Max(), test.ShouldResemble, r3.Vector{X: 3, Y: 2, Z: 5})

	test.That(t, bb.StrictlyContains(r3.Vector{X: 0, Y: 0, Z: 0}), test.ShouldBeTrue)
	// faces are excluded
	test.That(t, bb.StrictlyContains(r3.Vector{X: 3, Y: 0, Z: 0}), test.ShouldBeFalse)
	test.That(t, bb.StrictlyContains(r3.Vector{X: 0, Y: -4, Z: 0}), test.ShouldBeFalse)
	test.That(t, bb.StrictlyContains(r3.Vector{X: 0, Y: 0, Z: 5.1}), test.ShouldBeFalse)
}

func TestFilterAndTransform(t *testing.T) {
	pts := Points{{X: 1}, {X: 2}, {X: 3}, {X: 4}}
	even := pts.Filter(func(p r3.Vector) bool { return int(p.X)%2 == 0 })
	test.That(t, even, test.ShouldResemble, Points{{X: 2}, {X: 4}})
	test.That(t, even.Size(), test.ShouldEqual, 2)

	moved := pts.Transform(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))
	test.That(t, moved[2], test.ShouldResemble, r3.Vector{X: 3, Y: 1})
	test.That(t, pts[2], test.ShouldResemble, r3.Vector{X: 3})
}

func TestPCDRoundTrip(t *testing.T) {
	pts := Points{{X: 0.5, Y: -1.25, Z: 2}, {X: 10, Y: 0, Z: -3.5}}
	for _, typ := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(pts, &buf, typ), test.ShouldBeNil)
		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, pts)
	}
	test.That(t, ToPCD(pts, &bytes.Buffer{}, PCDCompressed), test.ShouldNotBeNil)
}

func TestReadPCDExtraFields(t *testing.T) {
	in := strings.Join([]string{
		"# exported scan",
		"VERSION 0.7",
		"FIELDS x y z intensity",
		"SIZE 4 4 4 4",
		"TYPE F F F F",
		"COUNT 1 1 1 1",
		"WIDTH 2",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 2",
		"DATA ascii",
		"1 2 3 100",
		"4 5 6 12",
	}, "\n")
	got, err := ReadPCD(strings.NewReader(in))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, Points{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})

	_, err = ReadPCD(strings.NewReader(strings.Replace(in, "POINTS 2", "POINTS 3", 1)))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPCD(strings.NewReader(strings.Replace(in, "FIELDS x y z", "FIELDS y x z", 1)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadPCDOversizedHeader(t *testing.T) {
	header := func(size, points, data string) string {
		return strings.Join([]string{
			"VERSION .7",
			"FIELDS x y z",
			"SIZE " + size,
			"TYPE F F F",
			"COUNT 1 1 1",
			"WIDTH " + points,
			"HEIGHT 1",
			"VIEWPOINT 0 0 0 1 0 0 0",
			"POINTS " + points,
			"DATA " + data,
		}, "\n") + "\n"
	}

	// a point count far past the data fails on the missing points instead of reserving them
	_, err := ReadPCD(strings.NewReader(header("4 4 4", "4000000000000", "ascii") + "1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading point 1")

	var buf bytes.Buffer
	test.That(t, ToPCD(Points{{X: 1, Y: 2, Z: 3}}, &buf, PCDBinary), test.ShouldBeNil)
	data := buf.Bytes()[bytes.Index(buf.Bytes(), []byte("DATA binary\n"))+len("DATA binary\n"):]
	_, err = ReadPCD(strings.NewReader(header("4 4 4", "4000000000000", "binary") + string(data)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading point 1")

	_, err = ReadPCD(strings.NewReader(header("4 4 4000000000000", "1", "binary") + string(data)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported SIZE")
}

func TestNewFromFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "scan.pcd")
	var buf bytes.Buffer
	test.That(t, ToPCD(Points{{X: 1, Y: 1, Z: 1}}, &buf, PCDBinary), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)

	got, err := NewFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, Points{{X: 1, Y: 1, Z: 1}})

	_, err = NewFromFile(filepath.Join(t.TempDir(), "missing.pcd"))
	test.That(t, err, test.ShouldNotBeNil)
}
