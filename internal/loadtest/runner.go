package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apexrad/periscan/pkg/logger"
)

// Run executes the complete load test: health check, concurrent synchronous
// submissions, one batch submission, and a final stats read.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.Get().Named("loadtest")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting load test",
		logger.String("base_url", cfg.BaseURL),
		logger.Int("requests", cfg.NumRequests),
		logger.Int("batch_size", cfg.BatchSize),
		logger.Int("workers", cfg.Workers),
	)

	client := &http.Client{Timeout: cfg.Timeout}

	if err := checkHealth(ctx, client, cfg); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	reqs := generateRequests(cfg)
	stats.Generated = len(reqs)

	submit(ctx, client, cfg, reqs, stats, log)

	if cfg.BatchSize > 0 {
		if err := submitBatch(ctx, client, cfg, stats); err != nil {
			log.Warn(ctx, "batch submission failed", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	report(stats, log)

	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d submissions failed", stats.Failed, stats.Submitted)
	}
	return nil
}

// checkHealth verifies the service is up before generating load.
func checkHealth(ctx context.Context, client *http.Client, cfg *Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %d", resp.StatusCode)
	}
	return nil
}

// submit fans the synchronous requests out over the configured workers.
func submit(ctx context.Context, client *http.Client, cfg *Config, reqs []assessmentRequest, stats *Stats, log logger.Logger) {
	var succeeded, degraded, failed atomic.Int64

	jobs := make(chan assessmentRequest)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				res, err := postAssessment(ctx, client, cfg, req)
				if err != nil {
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "submission failed",
							logger.String("request_id", req.RequestID),
							logger.Error(err),
						)
					}
					continue
				}
				succeeded.Add(1)
				if res.Degraded {
					degraded.Add(1)
				}
				if cfg.Verbose {
					log.Info(ctx, "assessment completed",
						logger.String("request_id", req.RequestID),
						logger.String("label", res.Label),
						logger.Float64("confidence", res.Confidence),
						logger.String("cache", res.CacheStatus),
					)
				}
			}
		}()
	}

	for _, req := range reqs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- req:
			stats.Submitted++
		}
	}
	close(jobs)
	wg.Wait()

	stats.Succeeded = int(succeeded.Load())
	stats.Degraded = int(degraded.Load())
	stats.Failed = int(failed.Load())
}

// postAssessment submits one synchronous assessment.
func postAssessment(ctx context.Context, client *http.Client, cfg *Config, req assessmentRequest) (assessmentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return assessmentResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/assessment", bytes.NewReader(body))
	if err != nil {
		return assessmentResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return assessmentResponse{}, fmt.Errorf("post assessment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return assessmentResponse{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var res assessmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return assessmentResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}

// submitBatch submits one asynchronous batch and records how much of it the
// queue accepted.
func submitBatch(ctx context.Context, client *http.Client, cfg *Config, stats *Stats) error {
	batch := struct {
		Requests []assessmentRequest `json:"requests"`
	}{Requests: generateRequests(&Config{NumRequests: cfg.BatchSize, FeatureDim: cfg.FeatureDim})}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/assessments/batch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected batch status: %d", resp.StatusCode)
	}

	var ack batchAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decode batch ack: %w", err)
	}
	stats.BatchAccepted = ack.Accepted
	return nil
}

// report logs the final run statistics.
func report(stats *Stats, log logger.Logger) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(context.Background(), "load test finished",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("degraded", stats.Degraded),
		logger.Int("failed", stats.Failed),
		logger.Int("batch_accepted", stats.BatchAccepted),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("requests_per_second", perSecond),
	)
}
