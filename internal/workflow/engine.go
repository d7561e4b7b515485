// Package workflow runs post-recording tasks with bounded retries.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/observability/metrics"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrEngineClosed     = errors.New("workflow engine is shut down")
)

// RetryPolicy bounds how often and how fast a step is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy retries five times with exponential backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if time.Duration(delay) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether a failed step may succeed on retry: timeouts,
// connection failures, and errors that declare themselves transient
// (5xx, 429 responses).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var declared interface{ Transient() bool }
	if errors.As(err, &declared) {
		return declared.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Engine runs tasks asynchronously and retries their steps under a shared policy.
type Engine struct {
	policy  RetryPolicy
	metrics *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(policy RetryPolicy, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		policy:  policy.normalized(),
		metrics: m,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		sleep:   sleepContext,
	}
}

// Policy returns the effective retry policy.
func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Go runs task on its own goroutine with the engine context.
func (e *Engine) Go(name string, task func(ctx context.Context)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Interface("panic", r).Str("task", name).Msg("Workflow task panicked")
			}
		}()
		task(e.ctx)
	}()
	return nil
}

// Retry runs step until it succeeds, fails non-transiently, or the policy is exhausted.
func (e *Engine) Retry(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		e.metrics.RecordWorkflowAttempt(step, err)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Backoff(attempt)
		e.log.Warn().
			Err(err).
			Str("step", step).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Workflow step failed, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", step, ErrRetriesExhausted, e.policy.MaxAttempts, lastErr)
}

// Shutdown stops accepting tasks and waits for in-flight ones. If ctx ends
// first, running tasks are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
