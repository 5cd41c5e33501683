package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	apperrors "receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Config holds the throughput budget of the recognition service
type Config struct {
	// ConcurrencyLimit is the number of calls allowed in flight
	ConcurrencyLimit int `mapstructure:"concurrency_limit"`
	// MinPeriod is the window in which at most ConcurrencyLimit calls may start
	MinPeriod time.Duration `mapstructure:"min_period"`
	// CallTimeout bounds one call. Zero means no bound.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// ProgressInterval is how often progress is logged
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// DefaultConfig returns five calls per minute with no call timeout
func DefaultConfig() *Config {
	return &Config{
		ConcurrencyLimit: 5,
		MinPeriod:        60 * time.Second,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the pipeline configuration
func (c *Config) Validate() error {
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency limit must be at least 1, got %d", c.ConcurrencyLimit)
	}
	if c.MinPeriod < 0 {
		return fmt.Errorf("min period cannot be negative, got %s", c.MinPeriod)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call timeout cannot be negative, got %s", c.CallTimeout)
	}
	return nil
}

// SlotHold is the minimum time each admission slot stays taken
func (c *Config) SlotHold() time.Duration {
	return c.MinPeriod / time.Duration(c.ConcurrencyLimit)
}

// Result is the outcome of one item. Receipt is nil when Err is set.
type Result struct {
	Source    string
	RequestID string
	Receipt   *RawReceipt
	Err       error
	Duration  time.Duration
}

// Batch holds the results of one run in completion order
type Batch struct {
	Results []Result
	Elapsed time.Duration
}

// Pipeline runs an Extractor over many images. At most ConcurrencyLimit
// calls are in flight and each slot is held for at least
// MinPeriod/ConcurrencyLimit from the start of its call.
type Pipeline struct {
	extractor Extractor
	config    *Config
	logger    logger.Logger
}

// NewPipeline creates a new Pipeline
func NewPipeline(extractor Extractor, config *Config) (*Pipeline, error) {
	if extractor == nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeMissingConfig, "extractor", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "pipeline", config.ConcurrencyLimit, err)
	}

	return &Pipeline{
		extractor: extractor,
		config:    config,
		logger:    logger.GetGlobalLogger().WithComponent("extraction_pipeline"),
	}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config {
	return *p.config
}

// ExtractAll extracts every item and never fails as a whole: a failed,
// panicking or cancelled item becomes a Result with a nil Receipt.
func (p *Pipeline) ExtractAll(ctx context.Context, items []string) *Batch {
	start := time.Now()
	gate := semaphore.NewWeighted(int64(p.config.ConcurrencyLimit))

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "receipt extraction",
		Total:       int64(len(items)),
		LogInterval: p.config.ProgressInterval,
		Logger:      p.logger,
	})

	results := make(chan Result, len(items))
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			results <- p.extractOne(ctx, gate, source)
		}(item)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	batch := &Batch{Results: make([]Result, 0, len(items))}
	for result := range results {
		if result.Err != nil {
			progress.IncrementFailed()
		} else {
			progress.Increment()
		}
		batch.Results = append(batch.Results, result)
	}

	progress.Complete()
	batch.Elapsed = time.Since(start)

	p.logger.WithFields(logger.Fields{
		"items":     len(items),
		"succeeded": batch.Succeeded(),
		"failed":    len(batch.Failed()),
		"elapsed":   batch.Elapsed.String(),
	}).Info("Extraction batch finished")

	return batch
}

func (p *Pipeline) extractOne(ctx context.Context, gate *semaphore.Weighted, source string) (result Result) {
	result = Result{Source: source, RequestID: uuid.NewString()}
	log := p.logger.WithFields(logger.Fields{
		"request_id": result.RequestID,
		"source":     source,
	})

	if err := gate.Acquire(ctx, 1); err != nil {
		result.Err = apperrors.ExtractionError(apperrors.CodeExtractionFailed, source, err)
		log.WithError(err).Warn("Extraction not started")
		return result
	}

	started := time.Now()
	defer func() {
		result.Duration = time.Since(started)
		p.holdSlot(ctx, started)
		gate.Release(1)
	}()
	defer recoverExtraction(&result, log)

	callCtx := ctx
	if p.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.config.CallTimeout)
		defer cancel()
	}

	log.Debug("Calling extractor")
	raw, err := p.extractor.Extract(callCtx, source)
	switch {
	case err != nil:
		if _, ok := apperrors.AsReconcilerError(err); !ok {
			err = apperrors.ExtractionError(apperrors.CodeExtractionFailed, source, err)
		}
		result.Err = err
		log.WithError(err).Warn("Extraction failed")
	case raw == nil:
		result.Err = apperrors.ExtractionError(apperrors.CodeMalformedResponse, source, fmt.Errorf("extractor returned no record"))
		log.Warn("Extraction returned no record")
	default:
		result.Receipt = raw
		log.WithField("duration", time.Since(started).String()).Debug("Extraction succeeded")
	}
	return result
}

// recoverExtraction turns a panicking extractor into a failed result. It
// must be deferred directly.
func recoverExtraction(result *Result, log logger.Logger) {
	if r := recover(); r != nil {
		result.Receipt = nil
		result.Err = apperrors.InternalError(apperrors.CodeUnexpectedError, "extract "+result.Source, fmt.Errorf("panic: %v", r))
		log.WithError(result.Err).Error("Extractor panicked")
	}
}

// holdSlot idles until the slot has been held for SlotHold or ctx is done
func (p *Pipeline) holdSlot(ctx context.Context, started time.Time) {
	remaining := p.config.SlotHold() - time.Since(started)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
