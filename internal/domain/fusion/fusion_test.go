package fusion_test

import (
	"fmt"
	"testing"

	fusion "github.com/apexrad/periscan/internal/domain/fusion"
	model "github.com/apexrad/periscan/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func verdictSet() []model.Verdict {
	return []model.Verdict{
		{Model: model.KindCNN, Label: model.LabelNormal, Confidence: 0.70},
		{Model: model.KindSVM, Label: model.LabelLesion, Confidence: 0.60},
		{Model: model.KindQuantum, Label: model.LabelLesion, Confidence: 0.80},
	}
}

// permute3 returns all orderings of a three-verdict set.
func permute3(v []model.Verdict) [][]model.Verdict {
	idx := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	out := make([][]model.Verdict, 0, len(idx))
	for _, p := range idx {
		out = append(out, []model.Verdict{v[p[0]], v[p[1]], v[p[2]]})
	}
	return out
}

func TestFuseWeighted(t *testing.T) {
	Convey("Given a fusion engine with equal weights", t, func() {
		eng := fusion.New()

		Convey("When fusing three verdicts under the weighted policy", func() {
			res, err := eng.Fuse(verdictSet(), model.PolicyWeighted)

			Convey("Then the confidence is the weighted mean", func() {
				So(err, ShouldBeNil)
				So(res.Confidence, ShouldAlmostEqual, (0.70+0.60+0.80)/3, 1e-12)
			})

			Convey("And the lesion majority wins the label vote", func() {
				So(err, ShouldBeNil)
				So(res.Label, ShouldEqual, model.LabelLesion)
			})

			Convey("And contributing verdicts are listed in canonical order", func() {
				So(err, ShouldBeNil)
				So(res.Contributing(), ShouldResemble, []model.Kind{model.KindCNN, model.KindQuantum, model.KindSVM})
			})
		})

		Convey("When fusing the same set in every iteration order", func() {
			first, err := eng.Fuse(verdictSet(), model.PolicyWeighted)
			So(err, ShouldBeNil)

			for i, perm := range permute3(verdictSet()) {
				res, err := eng.Fuse(perm, model.PolicyWeighted)
				So(err, ShouldBeNil)

				Convey(fmt.Sprintf("Then the result is identical for permutation %d (%s)", i, perm[0].Model), func() {
					So(res, ShouldResemble, first)
				})
			}
		})

		Convey("When fusing an empty set", func() {
			_, err := eng.Fuse(nil, model.PolicyWeighted)
			So(err, ShouldWrap, fusion.ErrNoVerdicts)
		})
	})

	Convey("Given a fusion engine with configured per-model weights", t, func() {
		eng := fusion.New(fusion.WithWeights(map[model.Kind]float64{
			model.KindCNN:     3.0,
			model.KindSVM:     1.0,
			model.KindQuantum: 1.0,
		}))

		Convey("When the heavily weighted model disagrees with the majority", func() {
			res, err := eng.Fuse(verdictSet(), model.PolicyWeighted)

			Convey("Then its vote can flip the final label", func() {
				So(err, ShouldBeNil)
				// normal: 3.0*0.70 = 2.10; lesion: 1.0*0.60 + 1.0*0.80 = 1.40
				So(res.Label, ShouldEqual, model.LabelNormal)
				So(res.Confidence, ShouldAlmostEqual, (3*0.70+0.60+0.80)/5, 1e-12)
			})
		})
	})
}

func TestFuseTieBreak(t *testing.T) {
	Convey("Given two verdicts with perfectly tied weighted votes", t, func() {
		tied := []model.Verdict{
			{Model: model.KindSVM, Label: model.LabelNormal, Confidence: 0.75},
			{Model: model.KindQuantum, Label: model.LabelLesion, Confidence: 0.75},
		}

		Convey("When fusing with the default tie-break", func() {
			res, err := fusion.New().Fuse(tied, model.PolicyWeighted)

			Convey("Then the quantum model's label wins", func() {
				So(err, ShouldBeNil)
				So(res.Label, ShouldEqual, model.LabelLesion)
				So(res.TieBreak, ShouldEqual, model.KindQuantum)
			})
		})

		Convey("When the tie-break is overridden toward the SVM", func() {
			eng := fusion.New(fusion.WithTieBreak(model.KindSVM))
			res, err := eng.Fuse(tied, model.PolicyWeighted)

			Convey("Then the SVM's label wins instead", func() {
				So(err, ShouldBeNil)
				So(res.Label, ShouldEqual, model.LabelNormal)
			})
		})
	})
}

func TestFuseSingle(t *testing.T) {
	Convey("Given the single policy", t, func() {
		eng := fusion.New()

		Convey("When exactly one verdict is supplied", func() {
			v := model.Verdict{Model: model.KindQuantum, Label: model.LabelLesion, Confidence: 0.91}
			res, err := eng.Fuse([]model.Verdict{v}, model.PolicySingle)

			Convey("Then it passes through unchanged", func() {
				So(err, ShouldBeNil)
				So(res.Label, ShouldEqual, model.LabelLesion)
				So(res.Confidence, ShouldEqual, 0.91)
				So(res.Verdicts, ShouldHaveLength, 1)
			})
		})

		Convey("When several verdicts are supplied", func() {
			_, err := eng.Fuse(verdictSet(), model.PolicySingle)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFuseBestOf(t *testing.T) {
	Convey("Given the best-of policy", t, func() {
		eng := fusion.New()

		Convey("When fusing three verdicts", func() {
			first, err := eng.Fuse(verdictSet(), model.PolicyBestOf)

			Convey("Then the highest-confidence verdict wins", func() {
				So(err, ShouldBeNil)
				So(first.Label, ShouldEqual, model.LabelLesion)
				So(first.Confidence, ShouldEqual, 0.80)
			})

			Convey("And the outcome is order-independent", func() {
				So(err, ShouldBeNil)
				for _, perm := range permute3(verdictSet()) {
					res, err := eng.Fuse(perm, model.PolicyBestOf)
					So(err, ShouldBeNil)
					So(res, ShouldResemble, first)
				}
			})
		})
	})
}
