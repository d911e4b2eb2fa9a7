package encoder_test

import (
	"math"
	"testing"

	encoder "github.com/apexrad/periscan/internal/domain/encoder"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEncoderEncode(t *testing.T) {
	Convey("Given an encoder with a target dimension of 4", t, func() {
		enc := encoder.New(encoder.WithTargetDim(4))

		Convey("When encoding the same input twice", func() {
			raw := []float64{0.2, 0.4, 0.1, 0.8, 0.3, 0.9, 0.5, 0.7}
			a, errA := enc.Encode(raw)
			b, errB := enc.Encode(raw)

			Convey("Then both calls succeed and outputs are bit-identical", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a, ShouldResemble, b)
			})
		})

		Convey("When encoding an input longer than the target", func() {
			out, err := enc.Encode([]float64{1, 1, 2, 2, 3, 3, 4, 4})

			Convey("Then blocks are averaged down to the target dimension", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 4)
			})

			Convey("And values land in the default [0, pi] range", func() {
				So(err, ShouldBeNil)
				for _, x := range out {
					So(x, ShouldBeBetweenOrEqual, 0, math.Pi)
				}
				So(out[0], ShouldEqual, 0)
				So(out[3], ShouldAlmostEqual, math.Pi, 1e-12)
			})
		})

		Convey("When encoding an input that already matches the target", func() {
			out, err := enc.Encode([]float64{0.2, 0.4, 0.1, 0.8})

			Convey("Then no folding happens and normalization is monotone", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 4)
				// 0.1 is the minimum, 0.8 the maximum.
				So(out[2], ShouldEqual, 0)
				So(out[3], ShouldAlmostEqual, math.Pi, 1e-12)
			})
		})

		Convey("When encoding a constant vector", func() {
			out, err := enc.Encode([]float64{0.5, 0.5, 0.5, 0.5})

			Convey("Then every value maps to the range midpoint", func() {
				So(err, ShouldBeNil)
				for _, x := range out {
					So(x, ShouldAlmostEqual, math.Pi/2, 1e-12)
				}
			})
		})

		Convey("When the input is empty", func() {
			_, err := enc.Encode(nil)
			So(err, ShouldWrap, encoder.ErrEncoding)
		})

		Convey("When the input is shorter than the target dimension", func() {
			_, err := enc.Encode([]float64{0.1, 0.2})
			So(err, ShouldWrap, encoder.ErrEncoding)
		})

		Convey("When the input carries non-finite values", func() {
			_, err := enc.Encode([]float64{0.1, math.NaN(), 0.3, 0.4})
			So(err, ShouldWrap, encoder.ErrEncoding)
		})
	})

	Convey("Given an encoder with a pinned input dimension", t, func() {
		enc := encoder.New(encoder.WithInputDim(8), encoder.WithTargetDim(4))

		Convey("When the raw length does not match the schema", func() {
			_, err := enc.Encode([]float64{1, 2, 3, 4})
			So(err, ShouldWrap, encoder.ErrEncoding)
		})

		Convey("When the raw length matches", func() {
			_, err := enc.Encode([]float64{1, 2, 3, 4, 5, 6, 7, 8})
			So(err, ShouldBeNil)
		})
	})
}
