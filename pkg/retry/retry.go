// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package retry runs an operation repeatedly with a fixed pause between
// attempts.
//
// It backs two very different loops in wafp: per-path HTTP attempts in the
// fetcher (immediate retries, bounded by --retries) and the session cleanup
// after an interrupt (25 attempts with a short fixed wait).
//
// Usage:
//
//	err := retry.Do(ctx, retry.Fixed(4, 100*time.Millisecond), func(ctx context.Context) error {
//	    return fetchOnce(ctx, path)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of calls, the first one included.
	// Zero is treated as one.
	MaxAttempts int

	// Wait is the pause between attempts. Zero retries immediately.
	Wait time.Duration

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Fixed returns a config that retries attempts times in total with a
// constant pause.
func Fixed(attempts int, wait time.Duration) Config {
	return Config{MaxAttempts: attempts, Wait: wait}
}

// Validate checks if the config is valid.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MaxAttempts must be >= 0, got %d", c.MaxAttempts)
	}
	if c.Wait < 0 {
		return fmt.Errorf("Wait must be >= 0, got %v", c.Wait)
	}
	return nil
}

// Func is an operation that may fail and should be retried.
type Func func(ctx context.Context) error

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// Every error is retried except context cancellation.
func Do(ctx context.Context, cfg Config, fn Func) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == attempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if cfg.Wait > 0 {
			timer := time.NewTimer(cfg.Wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// IsTimeout reports whether err is a network or deadline timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
