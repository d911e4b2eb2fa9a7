// Package repository provides persistence for completed assessments.
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Assessment is one persisted assessment outcome.
type Assessment struct {
	ID           string             `json:"id"`
	PatientID    string             `json:"patient_id"`
	ImageDigest  string             `json:"image_digest"`
	Models       []model.Kind       `json:"models"`
	Policy       model.Policy       `json:"policy"`
	Prediction   model.Label        `json:"prediction"`
	Confidence   float64            `json:"confidence"`
	Degraded     bool               `json:"degraded"`
	CacheStatus  model.CacheStatus  `json:"cache_status"`
	Features     map[string]float64 `json:"features,omitempty"`
	ProcessingMS int64              `json:"processing_ms"`
	ModelVersion string             `json:"model_version"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	// Model keeps only assessments whose model set contains this kind.
	Model model.Kind

	// PatientID keeps only assessments for this patient.
	PatientID string

	// Limit caps the number of returned records. Zero means no cap.
	Limit int

	// Offset skips that many records, newest first.
	Offset int
}

// Store persists assessments. Implementations must be safe for concurrent
// use. Records are returned newest first.
type Store interface {
	// Save persists a completed assessment.
	Save(ctx context.Context, a Assessment) error

	// Get returns the assessment with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Assessment, error)

	// List returns assessments matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]Assessment, error)

	// Delete removes the assessment with the given ID, or ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Count returns the total number of stored assessments.
	Count(ctx context.Context) (int, error)

	// TrimBefore removes assessments created before the cutoff and reports
	// how many went away. Used by the retention job.
	TrimBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// hasModel reports whether the assessment's model set contains kind.
func (a Assessment) hasModel(kind model.Kind) bool {
	for _, m := range a.Models {
		if m == kind {
			return true
		}
	}
	return false
}

// MemoryStore is the in-memory Store implementation, used in tests and as a
// fallback when no database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Assessment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Assessment)}
}

// Save persists an assessment, replacing any record with the same ID.
func (s *MemoryStore) Save(_ context.Context, a Assessment) error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[a.ID] = a
	return nil
}

// Get returns the assessment with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return Assessment{}, ErrNotFound
	}
	return a, nil
}

// List returns matching assessments, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Assessment, error) {
	s.mu.RLock()
	all := make([]Assessment, 0, len(s.records))
	for _, a := range s.records {
		if f.Model != "" && !a.hasModel(f.Model) {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		all = append(all, a)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return []Assessment{}, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}

// Delete removes the assessment with the given ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Count returns the total number of stored assessments.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// TrimBefore removes assessments created before the cutoff.
func (s *MemoryStore) TrimBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.records {
		if a.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
