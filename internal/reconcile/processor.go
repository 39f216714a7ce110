package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lexledger/internal/log"
)

// ProcessorConfig holds configuration for the reconcile processor
type ProcessorConfig struct {
	// Interval is how often every aggregate is checked (default: 1h)
	Interval time.Duration

	// RunOnStart checks immediately instead of waiting one interval
	RunOnStart bool
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// Processor periodically reconciles every aggregate and logs the drift it
// finds. It never repairs; that is left to an operator.
type Processor struct {
	checker *Checker
	config  ProcessorConfig
	logger  *log.Logger

	// Lifecycle management
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce *sync.Once

	// onPass is called after every pass; used by tests.
	onPass func(results []Result, err error)
}

func NewProcessor(checker *Checker, config ProcessorConfig) *Processor {
	if config.Interval <= 0 {
		config.Interval = DefaultProcessorConfig().Interval
	}
	return &Processor{
		checker: checker,
		config:  config,
		logger:  checker.logger,
	}
}

// Start begins the reconcile loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.stopOnce = new(sync.Once)
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Reconcile processor started", "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish. It is
// safe to call concurrently. When ctx expires first the processor is
// marked stopped anyway; the abandoned loop exits after its pass.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopOnce.Do(func() { close(stopCh) })
	p.mu.Unlock()

	var err error
	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Reconcile processor stop timed out")
		err = ctx.Err()
	}

	p.mu.Lock()
	if p.doneCh == doneCh {
		p.running = false
	}
	p.mu.Unlock()
	return err
}

func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.runPass(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPass(ctx)
		}
	}
}

func (p *Processor) runPass(ctx context.Context) {
	start := time.Now()
	results, err := p.checker.ReconcileAll(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Reconcile pass failed",
			log.NewFields().WithOperation(log.OpReconcile).WithError(err).ToSlice()...)
	}

	drifted := 0
	for _, r := range results {
		if !r.Consistent() {
			drifted++
		}
	}
	args := []any{"checked", len(results), "drifted", drifted, log.FieldDuration, time.Since(start).Milliseconds()}
	if drifted > 0 {
		p.logger.WarnContext(ctx, "Reconcile pass found drifted aggregates", args...)
	} else {
		p.logger.DebugContext(ctx, "Reconcile pass completed", args...)
	}

	if p.onPass != nil {
		p.onPass(results, err)
	}
}
