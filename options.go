// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultPollTimeout bounds each readiness wait, keeping the loop
	// responsive even with nothing registered.
	DefaultPollTimeout = 10 * time.Second
)

// defaultPollErrorLogRates throttles logging of transient poll errors, per
// errno.
var defaultPollErrorLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

// loopOptions holds configuration options for EventLoop creation.
type loopOptions struct {
	logger            *logiface.Logger[logiface.Event]
	pollErrorLogRates map[time.Duration]int
	pollerKind        PollerKind
	pollTimeout       time.Duration
	metricsEnabled    bool
}

// --- Loop Options ---

// LoopOption configures an EventLoop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger used by the loop, its poller and its
// timer queue. A nil logger disables logging, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPoller selects the readiness backend. The choice is fixed for the life
// of the loop. Defaults to PollerEpoll.
func WithPoller(kind PollerKind) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		switch kind {
		case PollerEpoll, PollerPoll:
		default:
			return fmt.Errorf("%w: unknown poller kind %d", ErrInvalidOption, kind)
		}
		opts.pollerKind = kind
		return nil
	}}
}

// WithPollTimeout bounds each blocking readiness wait. It must be positive.
// Defaults to DefaultPollTimeout.
func WithPollTimeout(timeout time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: poll timeout must be positive, got %s", ErrInvalidOption, timeout)
		}
		opts.pollTimeout = timeout
		return nil
	}}
}

// WithPollErrorLogRates configures the rate limits applied to logging of
// transient poll errors, keyed by window. A nil or empty map disables
// throttling. See github.com/joeycumines/go-catrate for the semantics.
func WithPollErrorLogRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if len(rates) == 0 {
			opts.pollErrorLogRates = nil
			return nil
		}
		for window, count := range rates {
			if window <= 0 || count <= 0 {
				return fmt.Errorf("%w: invalid poll error log rate %s=%d", ErrInvalidOption, window, count)
			}
		}
		opts.pollErrorLogRates = rates
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the EventLoop.
// When enabled, counters can be read via EventLoop.Metrics.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		pollerKind:        PollerEpoll,
		pollTimeout:       DefaultPollTimeout,
		pollErrorLogRates: defaultPollErrorLogRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Pool Options ---

// poolOptions holds configuration options for EventLoopThreadPool creation.
type poolOptions struct {
	threadInit  ThreadInitCallback
	loopOptions []LoopOption
	numThreads  int
}

// PoolOption configures an EventLoopThreadPool instance.
type PoolOption interface {
	applyPool(*poolOptions) error
}

// poolOptionImpl implements PoolOption.
type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (p *poolOptionImpl) applyPool(opts *poolOptions) error {
	return p.applyPoolFunc(opts)
}

// WithThreadNum sets the number of worker loops the pool starts. Zero (the
// default) means every acquisition returns the base loop.
func WithThreadNum(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: thread count must not be negative, got %d", ErrInvalidOption, n)
		}
		opts.numThreads = n
		return nil
	}}
}

// WithLoopOptions sets the options used to construct each worker loop.
func WithLoopOptions(options ...LoopOption) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.loopOptions = append(opts.loopOptions, options...)
		return nil
	}}
}

// WithThreadInit sets a callback run on each worker loop's goroutine, after
// the loop is constructed and before it starts dispatching.
func WithThreadInit(cb ThreadInitCallback) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.threadInit = cb
		return nil
	}}
}

// resolvePoolOptions applies PoolOption instances to poolOptions.
func resolvePoolOptions(opts []PoolOption) (*poolOptions, error) {
	cfg := &poolOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
