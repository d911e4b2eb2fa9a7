package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/apexrad/periscan/internal/loadtest"
	"github.com/apexrad/periscan/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumRequests  = 1000
	defaultBatchSize    = 100
	defaultFeatureDim   = 16
	defaultWorkerFactor = 2 // multiplier for runtime.NumCPU()
	defaultTimeout      = 30 * time.Second
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		requests   = flag.Int("requests", defaultNumRequests, "Number of synchronous assessments to submit")
		batchSize  = flag.Int("batch", defaultBatchSize, "Size of the single async batch submission (0 disables)")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkerFactor, "Number of concurrent submitters")
		featureDim = flag.Int("features", defaultFeatureDim, "Length of each synthetic feature vector")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose    = flag.Bool("verbose", false, "Enable per-request logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:     *baseURL,
		NumRequests: *requests,
		BatchSize:   *batchSize,
		Workers:     *workers,
		FeatureDim:  *featureDim,
		Timeout:     *timeout,
		Verbose:     *verbose,
	}

	if err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("load test failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
