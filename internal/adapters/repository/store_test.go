package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	repository "github.com/apexrad/periscan/internal/adapters/repository"
	model "github.com/apexrad/periscan/internal/domain/model"
)

func newAssessment(patientID string, kinds []model.Kind, createdAt time.Time) repository.Assessment {
	return repository.Assessment{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		ImageDigest:  "sha256:" + uuid.NewString(),
		Models:       kinds,
		Policy:       model.PolicyWeighted,
		Prediction:   model.LabelLesion,
		Confidence:   0.83,
		Degraded:     false,
		CacheStatus:  model.CacheMiss,
		Features:     map[string]float64{"kernel_mean": 0.71, "margin": 1.2},
		ProcessingMS: 42,
		ModelVersion: "v1",
		CreatedAt:    createdAt,
	}
}

// storeUnderTest names one Store implementation for the shared scenarios.
type storeUnderTest struct {
	name string
	open func(t *testing.T) repository.Store
}

func stores() []storeUnderTest {
	return []storeUnderTest{
		{
			name: "memory",
			open: func(t *testing.T) repository.Store {
				t.Helper()
				return repository.NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) repository.Store {
				t.Helper()
				s, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "assessments.db"))
				if err != nil {
					t.Fatalf("open sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, tc := range stores() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			Convey("Given an empty "+tc.name+" store", t, func() {
				s := tc.open(t)
				ctx := context.Background()
				a := newAssessment("patient-1", []model.Kind{model.KindSVM, model.KindQuantum}, time.Now().UTC().Truncate(time.Millisecond))

				Convey("When saving and loading an assessment", func() {
					So(s.Save(ctx, a), ShouldBeNil)
					got, err := s.Get(ctx, a.ID)

					Convey("Then every field survives the round trip", func() {
						So(err, ShouldBeNil)
						So(got.ID, ShouldEqual, a.ID)
						So(got.PatientID, ShouldEqual, a.PatientID)
						So(got.ImageDigest, ShouldEqual, a.ImageDigest)
						So(got.Models, ShouldResemble, a.Models)
						So(got.Policy, ShouldEqual, a.Policy)
						So(got.Prediction, ShouldEqual, a.Prediction)
						So(got.Confidence, ShouldAlmostEqual, a.Confidence, 1e-9)
						So(got.Degraded, ShouldEqual, a.Degraded)
						So(got.CacheStatus, ShouldEqual, a.CacheStatus)
						So(got.Features, ShouldResemble, a.Features)
						So(got.ProcessingMS, ShouldEqual, a.ProcessingMS)
						So(got.ModelVersion, ShouldEqual, a.ModelVersion)
						So(got.CreatedAt.UnixMilli(), ShouldEqual, a.CreatedAt.UnixMilli())
					})
				})

				Convey("When saving a record without an ID", func() {
					bad := a
					bad.ID = ""
					So(s.Save(ctx, bad), ShouldWrap, repository.ErrInvalidRecord)
				})

				Convey("When loading an unknown ID", func() {
					_, err := s.Get(ctx, uuid.NewString())
					So(err, ShouldWrap, repository.ErrNotFound)
				})

				Convey("When deleting", func() {
					So(s.Save(ctx, a), ShouldBeNil)
					So(s.Delete(ctx, a.ID), ShouldBeNil)
					_, err := s.Get(ctx, a.ID)
					So(err, ShouldWrap, repository.ErrNotFound)

					Convey("And deleting again reports not found", func() {
						So(s.Delete(ctx, a.ID), ShouldWrap, repository.ErrNotFound)
					})
				})
			})
		})
	}
}

func TestStoreList(t *testing.T) {
	for _, tc := range stores() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			Convey("Given a "+tc.name+" store with mixed assessments", t, func() {
				s := tc.open(t)
				ctx := context.Background()
				base := time.Now().UTC().Truncate(time.Millisecond)

				oldest := newAssessment("patient-1", []model.Kind{model.KindSVM}, base.Add(-3*time.Hour))
				middle := newAssessment("patient-2", []model.Kind{model.KindQuantum}, base.Add(-2*time.Hour))
				newest := newAssessment("patient-1", []model.Kind{model.KindSVM, model.KindQuantum}, base.Add(-time.Hour))
				for _, a := range []repository.Assessment{oldest, middle, newest} {
					So(s.Save(ctx, a), ShouldBeNil)
				}

				Convey("When listing everything", func() {
					got, err := s.List(ctx, repository.Filter{})

					Convey("Then records come back newest first", func() {
						So(err, ShouldBeNil)
						So(got, ShouldHaveLength, 3)
						So(got[0].ID, ShouldEqual, newest.ID)
						So(got[1].ID, ShouldEqual, middle.ID)
						So(got[2].ID, ShouldEqual, oldest.ID)
					})
				})

				Convey("When filtering by model kind", func() {
					got, err := s.List(ctx, repository.Filter{Model: model.KindQuantum})

					Convey("Then only assessments containing that kind match", func() {
						So(err, ShouldBeNil)
						So(got, ShouldHaveLength, 2)
						So(got[0].ID, ShouldEqual, newest.ID)
						So(got[1].ID, ShouldEqual, middle.ID)
					})
				})

				Convey("When filtering by patient", func() {
					got, err := s.List(ctx, repository.Filter{PatientID: "patient-2"})
					So(err, ShouldBeNil)
					So(got, ShouldHaveLength, 1)
					So(got[0].ID, ShouldEqual, middle.ID)
				})

				Convey("When paging with limit and offset", func() {
					got, err := s.List(ctx, repository.Filter{Limit: 1, Offset: 1})
					So(err, ShouldBeNil)
					So(got, ShouldHaveLength, 1)
					So(got[0].ID, ShouldEqual, middle.ID)
				})

				Convey("When counting", func() {
					n, err := s.Count(ctx)
					So(err, ShouldBeNil)
					So(n, ShouldEqual, 3)
				})

				Convey("When trimming before a cutoff", func() {
					n, err := s.TrimBefore(ctx, base.Add(-90*time.Minute))

					Convey("Then older records disappear and newer ones stay", func() {
						So(err, ShouldBeNil)
						So(n, ShouldEqual, 2)
						remaining, err := s.List(ctx, repository.Filter{})
						So(err, ShouldBeNil)
						So(remaining, ShouldHaveLength, 1)
						So(remaining[0].ID, ShouldEqual, newest.ID)
					})
				})
			})
		})
	}
}

func TestSQLitePersistence(t *testing.T) {
	Convey("Given a sqlite store written to disk", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "assessments.db")
		ctx := context.Background()
		a := newAssessment("patient-1", []model.Kind{model.KindSVM}, time.Now().UTC())

		s, err := repository.NewSQLiteStore(path)
		So(err, ShouldBeNil)
		So(s.Save(ctx, a), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When reopening the same file", func() {
			s2, err := repository.NewSQLiteStore(path)
			So(err, ShouldBeNil)
			defer func() { _ = s2.Close() }()

			Convey("Then the record is still there", func() {
				got, err := s2.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.PatientID, ShouldEqual, "patient-1")
			})
		})
	})
}
