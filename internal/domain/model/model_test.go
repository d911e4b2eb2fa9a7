package model_test

import (
	"testing"

	model "github.com/apexrad/periscan/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseKind(t *testing.T) {
	Convey("Given model kind strings", t, func() {
		Convey("When parsing known kinds", func() {
			for _, s := range []string{"cnn", "svm", "quantum", " SVM ", "Quantum"} {
				k, err := model.ParseKind(s)
				So(err, ShouldBeNil)
				So(k, ShouldBeIn, []model.Kind{model.KindCNN, model.KindSVM, model.KindQuantum})
			}
		})

		Convey("When parsing an unknown kind", func() {
			_, err := model.ParseKind("xgboost")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestParsePolicy(t *testing.T) {
	Convey("Given fusion policy strings", t, func() {
		Convey("When parsing known policies", func() {
			for s, want := range map[string]model.Policy{
				"single":   model.PolicySingle,
				"weighted": model.PolicyWeighted,
				"best-of":  model.PolicyBestOf,
				"WEIGHTED": model.PolicyWeighted,
			} {
				p, err := model.ParsePolicy(s)
				So(err, ShouldBeNil)
				So(p, ShouldEqual, want)
			}
		})

		Convey("When parsing an unknown policy", func() {
			_, err := model.ParsePolicy("unanimous")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFeatureVectorClone(t *testing.T) {
	Convey("Given a feature vector", t, func() {
		v := model.FeatureVector{0.2, 0.4, 0.1, 0.8}

		Convey("When cloning it", func() {
			c := v.Clone()

			Convey("Then the clone is equal but independent", func() {
				So(c, ShouldResemble, v)
				c[0] = 9.9
				So(v[0], ShouldEqual, 0.2)
			})
		})
	})
}

func TestFusedResultContributing(t *testing.T) {
	Convey("Given a fused result with two verdicts", t, func() {
		r := model.FusedResult{
			Label: model.LabelLesion,
			Verdicts: []model.Verdict{
				{Model: model.KindSVM},
				{Model: model.KindQuantum},
			},
		}

		Convey("Then Contributing lists both model kinds in order", func() {
			So(r.Contributing(), ShouldResemble, []model.Kind{model.KindSVM, model.KindQuantum})
		})
	})
}
