// Package service wires the domain pipeline together: feature encoding,
// kernel evaluation, verdict fusion, result caching, and persistence. It
// implements the dependencies required by the HTTP API and the batch workers.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apexrad/periscan/internal/adapters/cache"
	"github.com/apexrad/periscan/internal/adapters/mq/queue"
	"github.com/apexrad/periscan/internal/adapters/mq/worker"
	"github.com/apexrad/periscan/internal/adapters/repository"
	"github.com/apexrad/periscan/internal/domain/encoder"
	"github.com/apexrad/periscan/internal/domain/fusion"
	"github.com/apexrad/periscan/internal/domain/model"
	"github.com/apexrad/periscan/pkg/logger"
	"github.com/apexrad/periscan/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultModelVersion = "v1"
	defaultMaxListLimit = 100
	defaultQueueSize    = 4096
)

// VerdictSource produces a verdict for an encoded feature vector. The kernel
// evaluators satisfy this interface.
type VerdictSource interface {
	Kind() model.Kind
	Assess(ctx context.Context, query model.FeatureVector) (model.Verdict, error)
}

// binding pairs a verdict source with the encoder that prepares its input.
type binding struct {
	source VerdictSource
	enc    *encoder.Encoder
}

// Service orchestrates the assessment pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	bindings map[model.Kind]binding
	fuser    *fusion.Engine
	results  *cache.ResultCache
	store    repository.Store
	jobQueue queue.Queue
	pool     *worker.Pool

	// Configuration
	defaultPolicy model.Policy
	version       string
	workerCount   int
	queueSize     int
	maxListLimit  int

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSource registers a verdict source together with its input encoder.
func WithSource(src VerdictSource, enc *encoder.Encoder) Option {
	return func(s *Service) {
		if src != nil && enc != nil {
			s.bindings[src.Kind()] = binding{source: src, enc: enc}
		}
	}
}

// WithFusion sets the verdict fusion engine.
func WithFusion(f *fusion.Engine) Option {
	return func(s *Service) {
		if f != nil {
			s.fuser = f
		}
	}
}

// WithCache sets the result cache.
func WithCache(c *cache.ResultCache) Option {
	return func(s *Service) {
		if c != nil {
			s.results = c
		}
	}
}

// WithRepository sets the assessment store.
func WithRepository(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDefaultPolicy sets the fusion policy used when a request names none.
func WithDefaultPolicy(p model.Policy) Option {
	return func(s *Service) {
		if p != "" {
			s.defaultPolicy = p
		}
	}
}

// WithModelVersion sets the version tag stamped onto cache keys and results.
func WithModelVersion(v string) Option {
	return func(s *Service) {
		if v != "" {
			s.version = v
		}
	}
}

// WithWorkerCount sets the number of batch worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the batch job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxListLimit caps the page size of assessment listings.
func WithMaxListLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxListLimit = limit
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// New constructs a Service with default configuration. Sources, fusion,
// cache, and repository are expected via options; missing pieces fall back
// to in-memory defaults so tests can build a service piecemeal.
func New(opts ...Option) *Service {
	s := &Service{
		bindings:      make(map[model.Kind]binding),
		defaultPolicy: model.PolicyWeighted,
		version:       defaultModelVersion,
		workerCount:   0, // worker.NewPool picks NumCPU*2
		queueSize:     defaultQueueSize,
		maxListLimit:  defaultMaxListLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.fuser == nil {
		s.fuser = fusion.New()
	}
	if s.results == nil {
		s.results = cache.New(nil) // pass-through
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}

	return s
}

// Start brings up the batch queue and worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.jobQueue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
	)
	s.pool = worker.NewPool(s.workerCount, s.jobQueue, s, s)
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "assessment service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Int("models", len(s.bindings)),
	)
	return nil
}

// Stop drains the batch queue, stops the workers, and releases the cache and
// the assessment store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	if err := s.results.Close(); err != nil {
		s.logger.Error(ctx, "error closing result cache", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing assessment store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "assessment service stopped")
}

// Assess runs the full pipeline for one request: validate, consult the
// result cache, compute on miss, and persist the outcome.
func (s *Service) Assess(ctx context.Context, req model.Request) (model.FusedResult, error) {
	start := time.Now()

	kinds, policy, version, err := s.normalize(req)
	if err != nil {
		metrics.RecordAssessmentError()
		return model.FusedResult{}, err
	}

	key := cache.Key(req.ImageDigest, kinds, policy, version)
	res, err := s.results.GetOrCompute(ctx, key, func(ctx context.Context) (model.FusedResult, error) {
		return s.compute(ctx, req, kinds, policy, version)
	})
	if err != nil {
		metrics.RecordAssessmentError()
		return model.FusedResult{}, err
	}

	elapsed := time.Since(start)
	metrics.RecordAssessment()
	metrics.RecordAssessmentLatency(float64(elapsed.Milliseconds()))
	if res.Degraded {
		metrics.RecordAssessmentDegraded()
	}

	s.persist(ctx, req, res, elapsed)
	return res, nil
}

// normalize validates the request and resolves defaults for the model
// selection, fusion policy, and version tag.
func (s *Service) normalize(req model.Request) ([]model.Kind, model.Policy, string, error) {
	if req.ImageDigest == "" {
		return nil, "", "", fmt.Errorf("%w: image digest is required", ErrInvalidRequest)
	}
	if len(req.RawFeatures) == 0 {
		return nil, "", "", fmt.Errorf("%w: raw features are required", ErrInvalidRequest)
	}

	kinds := req.Models
	if len(kinds) == 0 {
		kinds = s.registeredKinds()
	}
	if len(kinds) == 0 {
		return nil, "", "", fmt.Errorf("%w: no models registered", ErrUnknownModel)
	}
	seen := make(map[model.Kind]bool, len(kinds))
	for _, kind := range kinds {
		if _, ok := s.bindings[kind]; !ok {
			return nil, "", "", fmt.Errorf("%w: %q", ErrUnknownModel, kind)
		}
		if seen[kind] {
			return nil, "", "", fmt.Errorf("%w: duplicate model %q", ErrInvalidRequest, kind)
		}
		seen[kind] = true
	}

	policy := req.Policy
	if policy == "" {
		policy = s.defaultPolicy
	}
	if _, err := model.ParsePolicy(string(policy)); err != nil {
		return nil, "", "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if policy == model.PolicySingle && len(kinds) != 1 {
		return nil, "", "", fmt.Errorf("%w: single policy requires exactly one model", ErrInvalidRequest)
	}

	version := req.Version
	if version == "" {
		version = s.version
	}

	return kinds, policy, version, nil
}

// compute encodes the raw features per model, fans the encoded queries out
// to the verdict sources, and fuses what comes back. Encoding failures are
// fatal: they indicate malformed input, not an unavailable model.
func (s *Service) compute(ctx context.Context, req model.Request, kinds []model.Kind, policy model.Policy, version string) (model.FusedResult, error) {
	start := time.Now()

	encoded := make(map[model.Kind]model.FeatureVector, len(kinds))
	for _, kind := range kinds {
		vec, err := s.bindings[kind].enc.Encode(req.RawFeatures)
		if err != nil {
			return model.FusedResult{}, fmt.Errorf("%w: encode for %s: %w", ErrInvalidRequest, kind, err)
		}
		encoded[kind] = vec
	}

	type outcome struct {
		verdict model.Verdict
		err     error
	}
	outcomes := make([]outcome, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind model.Kind) {
			defer wg.Done()
			evalStart := time.Now()
			v, err := s.bindings[kind].source.Assess(ctx, encoded[kind])
			if err != nil {
				metrics.RecordEvaluatorError(string(kind))
				outcomes[i] = outcome{err: err}
				return
			}
			metrics.RecordEvaluatorLatency(string(kind), float64(time.Since(evalStart).Milliseconds()))
			outcomes[i] = outcome{verdict: v}
		}(i, kind)
	}
	wg.Wait()

	verdicts := make([]model.Verdict, 0, len(kinds))
	var failed []model.Kind
	var firstErr error
	for i, out := range outcomes {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			failed = append(failed, kinds[i])
			s.logger.Warn(ctx, "model evaluation failed",
				logger.String("model", string(kinds[i])),
				logger.String("request_id", req.RequestID),
				logger.Error(out.err),
			)
			continue
		}
		verdicts = append(verdicts, out.verdict)
	}

	if len(verdicts) == 0 {
		return model.FusedResult{}, fmt.Errorf("%w: %w", ErrInsufficientVerdicts, firstErr)
	}

	res, err := s.fuser.Fuse(verdicts, policy)
	if err != nil {
		return model.FusedResult{}, fmt.Errorf("fuse verdicts: %w", err)
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	res.Degraded = len(failed) > 0
	res.FailedModels = failed
	res.ProcessingMS = float64(time.Since(start).Microseconds()) / 1e3
	res.ModelVersion = version
	return res, nil
}

// persist writes the assessment to the repository. Persistence failures are
// logged but never fail the assessment that already succeeded.
func (s *Service) persist(ctx context.Context, req model.Request, res model.FusedResult, elapsed time.Duration) {
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	features := make(map[string]float64)
	for _, v := range res.Verdicts {
		for name, val := range v.Features {
			features[string(v.Model)+"."+name] = val
		}
		features[string(v.Model)+".confidence"] = v.Confidence
	}

	a := repository.Assessment{
		ID:           id,
		PatientID:    req.PatientID,
		ImageDigest:  req.ImageDigest,
		Models:       res.Contributing(),
		Policy:       res.Policy,
		Prediction:   res.Label,
		Confidence:   res.Confidence,
		Degraded:     res.Degraded,
		CacheStatus:  res.CacheStatus,
		Features:     features,
		ProcessingMS: elapsed.Milliseconds(),
		ModelVersion: res.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Save(ctx, a); err != nil {
		s.logger.Error(ctx, "failed to persist assessment",
			logger.String("assessment_id", id),
			logger.Error(err),
		)
		return
	}
	if n, err := s.store.Count(ctx); err == nil {
		metrics.UpdateAssessmentsStored(n)
	}
}

// Record implements worker.Recorder: batch outcomes are already persisted by
// Assess, so this only reports per-item completion.
func (s *Service) Record(ctx context.Context, job worker.Job, res model.FusedResult, err error) {
	if err != nil {
		s.logger.Warn(ctx, "batch item failed",
			logger.String("batch_id", job.BatchID),
			logger.String("request_id", job.Request.RequestID),
			logger.Error(err),
		)
		return
	}
	s.logger.Debug(ctx, "batch item completed",
		logger.String("batch_id", job.BatchID),
		logger.String("request_id", job.Request.RequestID),
		logger.String("label", string(res.Label)),
	)
}

// EnqueueBatch queues the given requests for asynchronous assessment and
// returns the batch ID plus how many items the queue accepted.
func (s *Service) EnqueueBatch(ctx context.Context, reqs []model.Request) (string, int, error) {
	s.mu.RLock()
	started := s.started
	q := s.jobQueue
	s.mu.RUnlock()

	if !started {
		return "", 0, ErrNotStarted
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	accepted := 0
	for _, req := range reqs {
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		job := model.Job{
			Request:     req,
			BatchID:     batchID,
			SubmittedAt: now,
		}
		if q.Enqueue(ctx, job) {
			accepted++
		}
	}

	s.logger.Info(ctx, "batch enqueued",
		logger.String("batch_id", batchID),
		logger.Int("submitted", len(reqs)),
		logger.Int("accepted", accepted),
	)
	return batchID, accepted, nil
}

// GetAssessment returns a persisted assessment by ID.
func (s *Service) GetAssessment(ctx context.Context, id string) (repository.Assessment, error) {
	return s.store.Get(ctx, id)
}

// ListAssessments returns persisted assessments matching the filter; the
// page size is clamped to the configured maximum.
func (s *Service) ListAssessments(ctx context.Context, f repository.Filter) ([]repository.Assessment, error) {
	if f.Limit <= 0 || f.Limit > s.maxListLimit {
		f.Limit = s.maxListLimit
	}
	return s.store.List(ctx, f)
}

// DeleteAssessment removes a persisted assessment by ID.
func (s *Service) DeleteAssessment(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Models describes the registered verdict sources for the catalog endpoint.
func (s *Service) Models() []model.Info {
	infos := make([]model.Info, 0, len(s.bindings))
	for kind, b := range s.bindings {
		info := model.Info{
			Kind:      kind,
			Available: true,
			Version:   s.version,
		}
		if counter, ok := b.source.(interface{ References() int }); ok {
			info.References = counter.References()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// SweepCache evicts expired cache entries and reports how many went away.
func (s *Service) SweepCache(ctx context.Context) int {
	return s.results.Sweep(ctx)
}

// InvalidateVersion drops every cached result stamped with the given model
// version tag.
func (s *Service) InvalidateVersion(ctx context.Context, version string) int {
	return s.results.Invalidate(ctx, version+":")
}

// TrimAssessments removes persisted assessments created before the cutoff.
func (s *Service) TrimAssessments(ctx context.Context, cutoff time.Time) (int, error) {
	return s.store.TrimBefore(ctx, cutoff)
}

// Healthy reports overall liveness and a per-component breakdown. A degraded
// cache does not make the service unhealthy; an unreachable store does.
func (s *Service) Healthy(ctx context.Context) (bool, map[string]string) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	components := map[string]string{
		"service": "ok",
		"cache":   "ok",
		"store":   "ok",
	}
	healthy := true

	if !started {
		components["service"] = "not started"
		healthy = false
	}
	if s.results.Degraded() {
		components["cache"] = "degraded"
	}
	if _, err := s.store.Count(ctx); err != nil {
		components["store"] = "unavailable"
		healthy = false
	}

	return healthy, components
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"models":        len(s.bindings),
		"model_version": s.version,
		"queue_size":    s.queueSize,
	}

	if s.started {
		stats["queue_length"] = s.jobQueue.Len(ctx)
		stats["workers"] = s.pool.Size()
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["assessments_stored"] = n
		metrics.UpdateAssessmentsStored(n)
	}

	return stats
}

// registeredKinds returns the registered model kinds in canonical order.
func (s *Service) registeredKinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(s.bindings))
	for kind := range s.bindings {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
