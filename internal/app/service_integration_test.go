package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/apexrad/periscan/internal/adapters/cache"
	service "github.com/apexrad/periscan/internal/app"
	"github.com/apexrad/periscan/internal/domain/encoder"
	"github.com/apexrad/periscan/internal/domain/fusion"
	"github.com/apexrad/periscan/internal/domain/kernel"
	"github.com/apexrad/periscan/internal/domain/model"
)

// brokenBackend simulates an unreachable quantum backend.
type brokenBackend struct{}

func (brokenBackend) EstimateFidelity(context.Context, model.FeatureVector, model.FeatureVector, int) (float64, error) {
	return 0, errors.New("backend connection refused")
}

func (brokenBackend) Name() string { return "broken-backend" }

func referenceSet(t *testing.T) *kernel.ReferenceSet {
	t.Helper()
	refs, err := kernel.NewReferenceSet([]kernel.Entry{
		{Vector: model.FeatureVector{2.8, 2.9, 3.0, 2.7}, Label: +1, Alpha: 1.0},
		{Vector: model.FeatureVector{2.6, 3.0, 2.8, 2.9}, Label: +1, Alpha: 0.8},
		{Vector: model.FeatureVector{0.2, 0.3, 0.1, 0.4}, Label: -1, Alpha: 1.0},
		{Vector: model.FeatureVector{0.4, 0.1, 0.3, 0.2}, Label: -1, Alpha: 0.8},
	}, 0.0)
	if err != nil {
		t.Fatalf("building reference set: %v", err)
	}
	return refs
}

func TestServicePipelineWithRealEvaluators(t *testing.T) {
	convey.Convey("Given a service wired with real kernel evaluators", t, func() {
		ctx := context.Background()
		refs := referenceSet(t)
		enc := encoder.New(encoder.WithTargetDim(4))

		classical := kernel.NewRBFEvaluator(refs, kernel.WithGamma(0.5))
		sim := kernel.NewSimulator(kernel.WithSeed(42))
		quantum := kernel.NewQuantumEvaluator(refs, sim, kernel.WithShots(256))

		svc := service.New(
			service.WithSource(classical, enc),
			service.WithSource(quantum, enc),
			service.WithFusion(fusion.New(
				fusion.WithWeights(map[model.Kind]float64{
					model.KindSVM:     1.0,
					model.KindQuantum: 1.0,
				}),
				fusion.WithTieBreak(model.KindQuantum),
			)),
			service.WithCache(cache.New(cache.NewMemoryStore())),
		)

		convey.Convey("When assessing a lesion-like feature vector", func() {
			res, err := svc.Assess(ctx, model.Request{
				RequestID:   "real-1",
				ImageDigest: "sha256:lesion",
				RawFeatures: []float64{0.95, 0.92, 0.98, 0.91, 0.94, 0.96, 0.93, 0.97},
				Policy:      model.PolicyWeighted,
			})

			convey.Convey("Then both models contribute a verdict", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Degraded, convey.ShouldBeFalse)
				convey.So(res.Verdicts, convey.ShouldHaveLength, 2)
				convey.So(res.Contributing(), convey.ShouldResemble, []model.Kind{model.KindQuantum, model.KindSVM})
				convey.So(res.Confidence, convey.ShouldBeGreaterThan, 0)
				convey.So(res.Confidence, convey.ShouldBeLessThanOrEqualTo, 1)
			})

			convey.Convey("Then the result is deterministic for the fixed seed", func() {
				convey.So(err, convey.ShouldBeNil)
				again, againErr := svc.Assess(ctx, model.Request{
					RequestID:   "real-2",
					ImageDigest: "sha256:lesion",
					RawFeatures: []float64{0.95, 0.92, 0.98, 0.91, 0.94, 0.96, 0.93, 0.97},
					Policy:      model.PolicyWeighted,
				})
				convey.So(againErr, convey.ShouldBeNil)
				convey.So(again.Label, convey.ShouldEqual, res.Label)
				convey.So(again.Confidence, convey.ShouldAlmostEqual, res.Confidence, 1e-12)
			})
		})
	})
}

func TestServicePipelineBackendFailure(t *testing.T) {
	convey.Convey("Given a quantum evaluator on a broken backend", t, func() {
		ctx := context.Background()
		refs := referenceSet(t)
		enc := encoder.New(encoder.WithTargetDim(4))

		classical := kernel.NewRBFEvaluator(refs, kernel.WithGamma(0.5))
		quantum := kernel.NewQuantumEvaluator(refs, brokenBackend{}, kernel.WithShots(256))

		svc := service.New(
			service.WithSource(classical, enc),
			service.WithSource(quantum, enc),
			service.WithFusion(fusion.New()),
		)

		req := model.Request{
			ImageDigest: "sha256:backend-down",
			RawFeatures: []float64{0.9, 0.8, 0.95, 0.85, 0.9, 0.92, 0.88, 0.91},
		}

		convey.Convey("When assessing under the weighted policy", func() {
			res, err := svc.Assess(ctx, req)

			convey.Convey("Then the classical verdict still carries the result, degraded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Degraded, convey.ShouldBeTrue)
				convey.So(res.FailedModels, convey.ShouldResemble, []model.Kind{model.KindQuantum})
				convey.So(res.Contributing(), convey.ShouldResemble, []model.Kind{model.KindSVM})
			})
		})

		convey.Convey("When the single policy targets the quantum model", func() {
			single := req
			single.Models = []model.Kind{model.KindQuantum}
			single.Policy = model.PolicySingle

			_, err := svc.Assess(ctx, single)

			convey.Convey("Then the backend failure is fatal", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInsufficientVerdicts)
			})
		})
	})
}
