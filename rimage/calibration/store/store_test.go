package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.viam.com/test"

	"github.com/camcal/camcal/rimage/calibration"
	"github.com/camcal/camcal/rimage/transform"
)

func sampleRecord() calibration.Record {
	return calibration.Record{
		Resolution:     calibration.Resolution{Width: 1280, Height: 720},
		FocalLength:    calibration.FocalLength{Fx: 1001.2345678901234, Fy: 999.8765432109876},
		PrincipalPoint: calibration.PrincipalPoint{Cx: 640.1 + 1e-13, Cy: 359.99999999999994},
		DistortionModel: transform.RationalDistortionType,
		DistortionCoefficients: []float64{
			-0.123456789012345, 0.0987654321, 1e-7, -3.3e-5, math.Pi / 100, 5e-300, -0.5, 0.25,
		},
		OverallRMSError: 0.4123456789,
		PerViewRMSError: []float64{0.1, 1.0 / 3, 0.7},
		ViewCount:       3,
		QualityVerdict:  calibration.VerdictExcellent,
	}
}

func TestRecordFileRoundTrip(t *testing.T) {
	rec := sampleRecord()
	path := filepath.Join(t.TempDir(), "out", "camera.json")
	test.That(t, WriteRecord(path, rec), test.ShouldBeNil)

	got, err := ReadRecord(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, rec)

	// overwriting leaves no temporary files behind
	rec.ViewCount, rec.PerViewRMSError = 1, rec.PerViewRMSError[:1]
	test.That(t, WriteRecord(path, rec), test.ShouldBeNil)
	entries, err := os.ReadDir(filepath.Dir(path))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
}

func TestRecordInvalid(t *testing.T) {
	rec := sampleRecord()
	rec.DistortionCoefficients = rec.DistortionCoefficients[:5]
	path := filepath.Join(t.TempDir(), "camera.json")
	test.That(t, WriteRecord(path, rec), test.ShouldNotBeNil)
	_, err := os.Stat(path)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	test.That(t, os.WriteFile(path, []byte(`{"resolution": {"width": 10}}`), 0o600), test.ShouldBeNil)
	_, err = ReadRecord(path)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(path, []byte(`{`), 0o600), test.ShouldBeNil)
	_, err = ReadRecord(path)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadRecord(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(path)
	test.That(t, err, test.ShouldBeNil)

	first, err := h.Save(ctx, "folder:a", sampleRecord())
	test.That(t, err, test.ShouldBeNil)
	second := sampleRecord()
	second.QualityVerdict = calibration.VerdictGood
	second.OverallRMSError = 0.7
	secondEntry, err := h.Save(ctx, "live", second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, secondEntry.ID, test.ShouldNotEqual, first.ID)

	bad := sampleRecord()
	bad.QualityVerdict = "meh"
	_, err = h.Save(ctx, "x", bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, h.Close(), test.ShouldBeNil)

	// reopen to check durability
	h, err = OpenHistory(path)
	test.That(t, err, test.ShouldBeNil)
	defer h.Close()

	all, err := h.List(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 2)
	test.That(t, all[0].ID, test.ShouldEqual, secondEntry.ID)
	test.That(t, all[0].Source, test.ShouldEqual, "live")
	test.That(t, all[0].Record, test.ShouldResemble, second)
	test.That(t, all[1].Record, test.ShouldResemble, sampleRecord())
	test.That(t, all[1].CreatedAt.Equal(first.CreatedAt), test.ShouldBeTrue)

	latest, err := h.List(ctx, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, latest, test.ShouldHaveLength, 1)

	got, err := h.Get(ctx, first.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Source, test.ShouldEqual, "folder:a")
	_, err = h.Get(ctx, uuid.New())
	test.That(t, err, test.ShouldNotBeNil)
}
