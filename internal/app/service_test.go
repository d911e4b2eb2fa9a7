package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/apexrad/periscan/internal/adapters/cache"
	"github.com/apexrad/periscan/internal/adapters/repository"
	service "github.com/apexrad/periscan/internal/app"
	"github.com/apexrad/periscan/internal/domain/encoder"
	"github.com/apexrad/periscan/internal/domain/fusion"
	"github.com/apexrad/periscan/internal/domain/model"
	"github.com/apexrad/periscan/pkg/logger"
)

func init() {
	logger.Init()
}

// stubSource is a controllable verdict source for pipeline tests.
type stubSource struct {
	kind  model.Kind
	label model.Label
	conf  float64
	err   error

	mu    sync.Mutex
	calls int
}

func (s *stubSource) Kind() model.Kind { return s.kind }

func (s *stubSource) References() int { return 3 }

func (s *stubSource) Assess(_ context.Context, _ model.FeatureVector) (model.Verdict, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return model.Verdict{}, s.err
	}
	return model.Verdict{
		Model:      s.kind,
		Label:      s.label,
		Confidence: s.conf,
		Latency:    time.Millisecond,
	}, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testRequest() model.Request {
	return model.Request{
		RequestID:   "req-1",
		PatientID:   "patient-9",
		ImageDigest: "sha256:abc123",
		RawFeatures: []float64{0.1, 0.9, 0.3, 0.7, 0.5, 0.2, 0.8, 0.4},
	}
}

func TestAssessValidation(t *testing.T) {
	convey.Convey("Given a service with one registered model", t, func() {
		ctx := context.Background()
		svm := &stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.8}
		svc := service.New(
			service.WithSource(svm, encoder.New()),
		)

		convey.Convey("When the image digest is missing", func() {
			req := testRequest()
			req.ImageDigest = ""

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then it should reject the request", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInvalidRequest)
			})
		})

		convey.Convey("When the raw features are missing", func() {
			req := testRequest()
			req.RawFeatures = nil

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then it should reject the request", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInvalidRequest)
			})
		})

		convey.Convey("When an unregistered model is requested", func() {
			req := testRequest()
			req.Models = []model.Kind{model.KindQuantum}

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then it should report the unknown model", func() {
				convey.So(err, convey.ShouldWrap, service.ErrUnknownModel)
			})
		})

		convey.Convey("When the single policy names several models", func() {
			req := testRequest()
			req.Models = []model.Kind{model.KindSVM, model.KindSVM}
			req.Policy = model.PolicySingle

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then it should reject the request", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInvalidRequest)
			})
		})

		convey.Convey("When the raw features are too short to encode", func() {
			req := testRequest()
			req.RawFeatures = []float64{0.1}

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then the encoding failure is fatal", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInvalidRequest)
			})
		})
	})
}

func TestAssessDegradedFusion(t *testing.T) {
	convey.Convey("Given a healthy classical model and a failing quantum model", t, func() {
		ctx := context.Background()
		backendDown := errors.New("backend unavailable")
		svm := &stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.9}
		quantum := &stubSource{kind: model.KindQuantum, err: backendDown}
		repo := repository.NewMemoryStore()

		svc := service.New(
			service.WithSource(svm, encoder.New()),
			service.WithSource(quantum, encoder.New()),
			service.WithFusion(fusion.New()),
			service.WithRepository(repo),
			service.WithModelVersion("v7"),
		)

		convey.Convey("When assessing under the weighted policy", func() {
			req := testRequest()
			req.Policy = model.PolicyWeighted

			res, err := svc.Assess(ctx, req)

			convey.Convey("Then the surviving verdict carries the result", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Label, convey.ShouldEqual, model.LabelLesion)
				convey.So(res.Degraded, convey.ShouldBeTrue)
				convey.So(res.FailedModels, convey.ShouldResemble, []model.Kind{model.KindQuantum})
				convey.So(res.Contributing(), convey.ShouldResemble, []model.Kind{model.KindSVM})
				convey.So(res.ModelVersion, convey.ShouldEqual, "v7")
			})

			convey.Convey("Then the assessment is persisted", func() {
				convey.So(err, convey.ShouldBeNil)
				stored, getErr := svc.GetAssessment(ctx, "req-1")
				convey.So(getErr, convey.ShouldBeNil)
				convey.So(stored.PatientID, convey.ShouldEqual, "patient-9")
				convey.So(stored.Prediction, convey.ShouldEqual, model.LabelLesion)
				convey.So(stored.Degraded, convey.ShouldBeTrue)
				convey.So(stored.ModelVersion, convey.ShouldEqual, "v7")
			})
		})

		convey.Convey("When the single policy targets the failing model", func() {
			req := testRequest()
			req.Models = []model.Kind{model.KindQuantum}
			req.Policy = model.PolicySingle

			_, err := svc.Assess(ctx, req)

			convey.Convey("Then the failure is fatal", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInsufficientVerdicts)
				convey.So(err, convey.ShouldWrap, backendDown)
			})
		})

		convey.Convey("When every requested model fails", func() {
			cnn := &stubSource{kind: model.KindCNN, err: errors.New("model not loaded")}
			allFail := service.New(
				service.WithSource(quantum, encoder.New()),
				service.WithSource(cnn, encoder.New()),
			)

			_, err := allFail.Assess(ctx, testRequest())

			convey.Convey("Then there is nothing to fuse", func() {
				convey.So(err, convey.ShouldWrap, service.ErrInsufficientVerdicts)
			})
		})
	})
}

func TestAssessCaching(t *testing.T) {
	convey.Convey("Given a service with a memory-backed result cache", t, func() {
		ctx := context.Background()
		svm := &stubSource{kind: model.KindSVM, label: model.LabelNormal, conf: 0.7}
		svc := service.New(
			service.WithSource(svm, encoder.New()),
			service.WithCache(cache.New(cache.NewMemoryStore())),
		)

		convey.Convey("When the same request is assessed twice", func() {
			first, err1 := svc.Assess(ctx, testRequest())
			second, err2 := svc.Assess(ctx, testRequest())

			convey.Convey("Then the second result is served from cache", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(first.CacheStatus, convey.ShouldEqual, model.CacheMiss)
				convey.So(second.CacheStatus, convey.ShouldEqual, model.CacheHit)
				convey.So(second.Label, convey.ShouldEqual, first.Label)
				convey.So(svm.callCount(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the model version changes between requests", func() {
			_, err1 := svc.Assess(ctx, testRequest())

			req := testRequest()
			req.Version = "v2"
			res, err2 := svc.Assess(ctx, req)

			convey.Convey("Then the new version misses the cache", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(res.CacheStatus, convey.ShouldEqual, model.CacheMiss)
				convey.So(svm.callCount(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a version is invalidated", func() {
			_, err := svc.Assess(ctx, testRequest())
			convey.So(err, convey.ShouldBeNil)

			n := svc.InvalidateVersion(ctx, "v1")

			convey.Convey("Then its cached results are gone", func() {
				convey.So(n, convey.ShouldEqual, 1)
				res, reErr := svc.Assess(ctx, testRequest())
				convey.So(reErr, convey.ShouldBeNil)
				convey.So(res.CacheStatus, convey.ShouldEqual, model.CacheMiss)
			})
		})
	})
}

func TestBatchProcessing(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		ctx := context.Background()
		svm := &stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.85}
		repo := repository.NewMemoryStore()
		svc := service.New(
			service.WithSource(svm, encoder.New()),
			service.WithRepository(repo),
			service.WithWorkerCount(4),
			service.WithQueueSize(64),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		convey.Convey("When a batch of requests is enqueued", func() {
			reqs := make([]model.Request, 0, 5)
			for i := 0; i < 5; i++ {
				req := testRequest()
				req.RequestID = ""
				req.RawFeatures = append([]float64{float64(i)}, req.RawFeatures...)
				reqs = append(reqs, req)
			}

			batchID, accepted, err := svc.EnqueueBatch(ctx, reqs)

			convey.Convey("Then every item is eventually assessed and stored", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(batchID, convey.ShouldNotBeEmpty)
				convey.So(accepted, convey.ShouldEqual, 5)

				deadline := time.Now().Add(5 * time.Second)
				count := 0
				for time.Now().Before(deadline) {
					count, _ = repo.Count(ctx)
					if count == 5 {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				convey.So(count, convey.ShouldEqual, 5)

				svc.Stop()
			})
		})

		convey.Convey("When the service is stopped with queued work", func() {
			reqs := []model.Request{testRequest()}
			_, accepted, err := svc.EnqueueBatch(ctx, reqs)
			convey.So(err, convey.ShouldBeNil)
			convey.So(accepted, convey.ShouldEqual, 1)

			svc.Stop()

			convey.Convey("Then the queued item still completes", func() {
				count, _ := repo.Count(ctx)
				convey.So(count, convey.ShouldEqual, 1)
			})
		})
	})

	convey.Convey("Given a service that was never started", t, func() {
		svc := service.New(
			service.WithSource(&stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.8}, encoder.New()),
		)

		convey.Convey("When a batch is enqueued", func() {
			_, _, err := svc.EnqueueBatch(context.Background(), []model.Request{testRequest()})

			convey.Convey("Then it should refuse", func() {
				convey.So(err, convey.ShouldWrap, service.ErrNotStarted)
			})
		})
	})
}

func TestModelCatalog(t *testing.T) {
	convey.Convey("Given a service with two registered models", t, func() {
		svc := service.New(
			service.WithSource(&stubSource{kind: model.KindQuantum, label: model.LabelLesion, conf: 0.6}, encoder.New()),
			service.WithSource(&stubSource{kind: model.KindSVM, label: model.LabelNormal, conf: 0.7}, encoder.New()),
			service.WithModelVersion("v3"),
		)

		convey.Convey("When listing the model catalog", func() {
			infos := svc.Models()

			convey.Convey("Then the models are described in canonical order", func() {
				convey.So(infos, convey.ShouldHaveLength, 2)
				convey.So(infos[0].Kind, convey.ShouldEqual, model.KindQuantum)
				convey.So(infos[1].Kind, convey.ShouldEqual, model.KindSVM)
				convey.So(infos[0].Available, convey.ShouldBeTrue)
				convey.So(infos[0].Version, convey.ShouldEqual, "v3")
				convey.So(infos[0].References, convey.ShouldEqual, 3)
			})
		})
	})
}

func TestAssessmentQueries(t *testing.T) {
	convey.Convey("Given a service with persisted assessments", t, func() {
		ctx := context.Background()
		svm := &stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.8}
		repo := repository.NewMemoryStore()
		svc := service.New(
			service.WithSource(svm, encoder.New()),
			service.WithRepository(repo),
			service.WithMaxListLimit(2),
		)

		for i := 0; i < 4; i++ {
			req := testRequest()
			req.RequestID = "req-" + string(rune('a'+i))
			req.RawFeatures = append([]float64{float64(i)}, req.RawFeatures...)
			_, err := svc.Assess(ctx, req)
			convey.So(err, convey.ShouldBeNil)
		}

		convey.Convey("When listing without a limit", func() {
			list, err := svc.ListAssessments(ctx, repository.Filter{})

			convey.Convey("Then the page size is clamped to the maximum", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(list, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When deleting an assessment", func() {
			err := svc.DeleteAssessment(ctx, "req-a")

			convey.Convey("Then it is gone", func() {
				convey.So(err, convey.ShouldBeNil)
				_, getErr := svc.GetAssessment(ctx, "req-a")
				convey.So(getErr, convey.ShouldWrap, repository.ErrNotFound)
			})
		})

		convey.Convey("When trimming old assessments", func() {
			n, err := svc.TrimAssessments(ctx, time.Now().Add(time.Minute))

			convey.Convey("Then everything before the cutoff goes away", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(n, convey.ShouldEqual, 4)
			})
		})
	})
}

func TestHealthAndStats(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithSource(&stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.8}, encoder.New()),
			service.WithWorkerCount(2),
		)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("When checking health", func() {
			healthy, components := svc.Healthy(ctx)

			convey.Convey("Then all components report ok", func() {
				convey.So(healthy, convey.ShouldBeTrue)
				convey.So(components["service"], convey.ShouldEqual, "ok")
				convey.So(components["store"], convey.ShouldEqual, "ok")
			})
		})

		convey.Convey("When reading stats", func() {
			stats := svc.GetStats(ctx)

			convey.Convey("Then the runtime figures are present", func() {
				convey.So(stats["started"], convey.ShouldBeTrue)
				convey.So(stats["models"], convey.ShouldEqual, 1)
				convey.So(stats["workers"], convey.ShouldEqual, 2)
			})
		})
	})

	convey.Convey("Given a service that was never started", t, func() {
		svc := service.New(
			service.WithSource(&stubSource{kind: model.KindSVM, label: model.LabelLesion, conf: 0.8}, encoder.New()),
		)

		convey.Convey("When checking health", func() {
			healthy, components := svc.Healthy(context.Background())

			convey.Convey("Then the service component is flagged", func() {
				convey.So(healthy, convey.ShouldBeFalse)
				convey.So(components["service"], convey.ShouldEqual, "not started")
			})
		})
	})
}
