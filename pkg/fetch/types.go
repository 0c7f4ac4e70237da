package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default tuning, matching the historical command-line defaults.
const (
	DefaultWorkers   = 8
	DefaultTimeout   = 10 * time.Second
	DefaultRetries   = 3
	DefaultUserAgent = "Mozilla/5.0 (X11; U; Linux i686; en-US; rv:1.9.0.10) Gecko/2009050223 Gentoo Firefox/3.0.10"

	MaxWorkers = 256
	MaxRetries = 256
	MaxTimeout = 300 * time.Second
)

// Options tunes a Fetcher.
type Options struct {
	// Workers bounds the number of in-flight requests (1..256).
	Workers int
	// Timeout bounds one request attempt, body included (1s..300s).
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one (0..256).
	Retries int
	// RetryWait pauses between attempts of the same path. Zero retries at once.
	RetryWait time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Proxy is an optional http(s) proxy URL.
	Proxy string
	// Insecure skips TLS certificate verification.
	Insecure bool
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Workers:   DefaultWorkers,
		Timeout:   DefaultTimeout,
		Retries:   DefaultRetries,
		UserAgent: DefaultUserAgent,
		Insecure:  true,
	}
}

// Validate checks ranges.
func (o Options) Validate() error {
	if o.Workers < 1 || o.Workers > MaxWorkers {
		return fmt.Errorf("%w: workers must be between 1 and %d, got %d", ErrInvalidOptions, MaxWorkers, o.Workers)
	}
	if o.Timeout < time.Second || o.Timeout > MaxTimeout {
		return fmt.Errorf("%w: timeout must be between 1s and %s, got %s", ErrInvalidOptions, MaxTimeout, o.Timeout)
	}
	if o.Retries < 0 || o.Retries > MaxRetries {
		return fmt.Errorf("%w: retries must be between 0 and %d, got %d", ErrInvalidOptions, MaxRetries, o.Retries)
	}
	if o.RetryWait < 0 {
		return fmt.Errorf("%w: retry wait must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Result is the outcome of one successfully fetched path.
type Result struct {
	Path       string
	Checksum   string
	StatusCode int
}

// Sink receives results as they complete. The Fetcher serializes calls.
type Sink interface {
	Record(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Record(ctx context.Context, r Result) error { return f(ctx, r) }

// Progress is advanced once per finished path.
type Progress interface {
	Add(n int) error
}

// Summary describes a finished Fetch call.
type Summary struct {
	// Requested is the number of distinct paths after normalization.
	Requested int `json:"requested" yaml:"requested"`
	// Recorded paths reached the sink.
	Recorded int `json:"recorded" yaml:"recorded"`
	// Skipped paths failed on every attempt.
	Skipped int `json:"skipped" yaml:"skipped"`
	// NotStarted paths were never requested because the run was canceled.
	NotStarted int `json:"not_started,omitempty" yaml:"not_started,omitempty"`
	// StatusCodes counts recorded responses by HTTP status.
	StatusCodes map[int]int `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
}

// ChecksumSet collects checksums in memory. It is the sink used by
// product identification, where nothing is persisted.
type ChecksumSet struct {
	mu   sync.RWMutex
	sums map[string]int
}

// NewChecksumSet returns an empty set, optionally seeded.
func NewChecksumSet(seed ...string) *ChecksumSet {
	s := &ChecksumSet{sums: make(map[string]int, len(seed))}
	for _, c := range seed {
		s.sums[c]++
	}
	return s
}

func (s *ChecksumSet) Record(_ context.Context, r Result) error {
	s.Add(r.Checksum)
	return nil
}

// Add inserts one checksum.
func (s *ChecksumSet) Add(sum string) {
	s.mu.Lock()
	s.sums[sum]++
	s.mu.Unlock()
}

// Contains reports whether sum was recorded.
func (s *ChecksumSet) Contains(sum string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sums[sum]
	return ok
}
