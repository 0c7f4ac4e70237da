// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package scanexec drives one fingerprinting run: product resolution, path
// selection, fetching into a scan session, scoring and the session's
// retention or removal.
package scanexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/likepattern"
	"github.com/vulntor/wafp/pkg/match"
	"github.com/vulntor/wafp/pkg/retry"
)

// Cleanup tuning for discarding a session after an interrupt or failure.
const (
	DefaultCleanupAttempts = 25
	DefaultCleanupWait     = 100 * time.Millisecond
)

// FetcherFactory builds the fetcher used for one phase of a run.
type FetcherFactory func(opts fetch.Options, progress fetch.Progress) (match.PathFetcher, error)

// ProgressFactory creates a progress indicator for a phase with a known
// number of steps. It may return nil.
type ProgressFactory func(phase string, total int) fetch.Progress

// Service orchestrates scan runs.
type Service struct {
	corpus   fingerprint.Store
	sessions SessionStore

	fetchOpts       fetch.Options
	fetcherFactory  FetcherFactory
	progressFactory ProgressFactory
	progressSink    ProgressSink

	cleanupOpener   CleanupOpener
	cleanupAttempts int
	cleanupWait     time.Duration

	now     func() time.Time
	newName func(p Params) string
}

// NewService builds a Service over a corpus and a scan store.
func NewService(corpus fingerprint.Store, sessions SessionStore, opts fetch.Options) *Service {
	s := &Service{
		corpus:    corpus,
		sessions:  sessions,
		fetchOpts: opts,
		fetcherFactory: func(opts fetch.Options, progress fetch.Progress) (match.PathFetcher, error) {
			var fns []fetch.Option
			if progress != nil {
				fns = append(fns, fetch.WithProgress(progress))
			}
			return fetch.New(opts, fns...)
		},
		cleanupAttempts: DefaultCleanupAttempts,
		cleanupWait:     DefaultCleanupWait,
		now:             time.Now,
	}
	s.newName = s.sessionName
	return s
}

// WithProgressSink attaches a sink to receive phase notifications.
func (s *Service) WithProgressSink(sink ProgressSink) *Service {
	s.progressSink = sink
	return s
}

// WithProgress attaches a progress indicator factory for the fetch phase.
func (s *Service) WithProgress(factory ProgressFactory) *Service {
	s.progressFactory = factory
	return s
}

// WithFetcherFactory overrides fetcher construction (useful for tests).
func (s *Service) WithFetcherFactory(factory FetcherFactory) *Service {
	s.fetcherFactory = factory
	return s
}

// WithCleanupOpener sets how a fresh scan database handle is opened when a
// session must be discarded after an interrupt or failure. Without one the
// primary handle is used.
func (s *Service) WithCleanupOpener(opener CleanupOpener) *Service {
	s.cleanupOpener = opener
	return s
}

// WithCleanupRetry overrides the cleanup attempt count and pause.
func (s *Service) WithCleanupRetry(attempts int, wait time.Duration) *Service {
	s.cleanupAttempts = attempts
	s.cleanupWait = wait
	return s
}

// Run executes one live scan or dry replay.
//
// A live run creates its session before the first request and removes it at
// the end unless p.Store is set. When ctx is canceled, no further requests
// start, the session is discarded through a freshly opened handle and the
// returned error wraps ErrInterrupted (or ErrCleanupFailed when the discard
// did not succeed).
func (s *Service) Run(ctx context.Context, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Dry != "" {
		return s.replay(ctx, p)
	}
	if p.Target == nil {
		return nil, NewInvalidTargetError("", nil)
	}
	if err := fetch.ValidateTarget(p.Target); err != nil {
		return nil, NewInvalidTargetError(p.Target.Redacted(), err)
	}

	res := &Result{
		Target:    p.Target.Redacted(),
		Version:   orAny(p.Version),
		FetchOnly: p.FetchOnly,
		StartTime: s.now(),
	}
	logger := log.With().Str("target", res.Target).Logger()

	product, err := s.resolveProduct(ctx, p, res)
	if err != nil {
		res.EndTime = s.now()
		if ctx.Err() != nil {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return res, err
	}
	res.Product = product

	filter := fingerprint.NewFilter(product, p.Version)
	paths, err := s.corpus.SelectPaths(ctx, filter)
	if err != nil {
		res.EndTime = s.now()
		return res, err
	}
	s.emit("select", "completed", fmt.Sprintf("%d paths", len(paths)), len(paths))

	name := s.newName(p)
	info := fmt.Sprintf("target=%s product=%s version=%s", res.Target, product, res.Version)
	sess, err := s.sessions.CreateSession(ctx, name, info, res.StartTime)
	if err != nil {
		res.EndTime = s.now()
		return res, fmt.Errorf("create session: %w", err)
	}
	res.SessionName = name
	snap := Snapshot{Name: name}
	logger = logger.With().Str("session", name).Logger()
	logger.Debug().Int("paths", len(paths)).Msg("session created")

	var progress fetch.Progress
	if s.progressFactory != nil {
		progress = s.progressFactory("fetch", len(paths))
	}
	fetcher, err := s.fetcherFactory(s.fetchOpts, progress)
	if err != nil {
		return s.abort(ctx, res, snap, err)
	}

	s.emit("fetch", "start", "", len(paths))
	summary, err := fetcher.Fetch(ctx, p.Target, paths, &sessionSink{store: s.sessions, sessionID: sess.ID})
	res.Fetch = summary
	if err != nil {
		return s.abort(ctx, res, snap, fmt.Errorf("fetch: %w", err))
	}
	s.emit("fetch", "completed", fmt.Sprintf("recorded=%d skipped=%d", summary.Recorded, summary.Skipped), len(paths))

	if !p.FetchOnly {
		if err := s.score(ctx, res, name, filter); err != nil {
			return s.abort(ctx, res, snap, err)
		}
	}

	if p.Store != "" {
		res.Retained = true
		logger.Info().Msg("scan stored")
	} else if err := s.Discard(snap); err != nil {
		res.EndTime = s.now()
		return res, err
	}

	res.EndTime = s.now()
	return res, nil
}

// replay scores a stored scan. It never creates or deletes a session.
func (s *Service) replay(ctx context.Context, p Params) (*Result, error) {
	res := &Result{
		SessionName: p.Dry,
		Retained:    true,
		Dry:         true,
		Product:     orAny(p.Product),
		Version:     orAny(p.Version),
		StartTime:   s.now(),
	}
	filter := fingerprint.NewFilter(p.Product, p.Version)
	err := s.score(ctx, res, p.Dry, filter)
	res.EndTime = s.now()
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return res, err
	}
	return res, nil
}

func (s *Service) score(ctx context.Context, res *Result, session string, filter fingerprint.Filter) error {
	results, err := s.sessions.Results(ctx, session)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	sums := fetch.NewChecksumSet()
	codes := make([]int, 0, len(results))
	for _, r := range results {
		sums.Add(r.Checksum)
		codes = append(codes, r.StatusCode)
	}
	if res.Dry {
		res.Fetch = fetch.Summary{Requested: len(results), Recorded: len(results)}
	}

	s.emit("match", "start", "", 0)
	scores, err := match.NewMatcher(s.corpus).Match(ctx, sums, filter, match.Options{})
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	res.Matches = scores
	res.Statuses = match.StatusHistogram(codes)
	s.emit("match", "completed", fmt.Sprintf("%d versions", len(scores)), len(scores))
	return nil
}

func (s *Service) resolveProduct(ctx context.Context, p Params, res *Result) (string, error) {
	switch {
	case p.Product != "":
		return p.Product, nil
	case p.Any, p.Version != "":
		return likepattern.Any, nil
	}

	s.emit("identify", "start", "", 0)
	fetcher, err := s.fetcherFactory(s.fetchOpts, nil)
	if err != nil {
		return "", err
	}
	id, err := match.NewIdentifier(s.corpus, fetcher, p.SampleSize).Identify(ctx, p.Target)
	res.Identification = &id
	if err != nil {
		s.emit("identify", "failed", err.Error(), 0)
		return "", err
	}
	s.emit("identify", "completed", id.Product, 0)
	return id.Product, nil
}

// abort discards the session after a failure or interrupt and reports the
// run error combined with any cleanup failure.
func (s *Service) abort(ctx context.Context, res *Result, snap Snapshot, runErr error) (*Result, error) {
	interrupted := ctx.Err() != nil
	if interrupted {
		log.Warn().Str("session", snap.Name).Msg("interrupted, discarding scan session")
	}
	cleanupErr := s.Discard(snap)
	res.EndTime = s.now()

	switch {
	case cleanupErr != nil:
		log.Error().Err(cleanupErr).Str("session", snap.Name).Msg("scan session could not be removed; the scan database may hold a partial session")
		if interrupted {
			return res, fmt.Errorf("%w: %w", ErrInterrupted, cleanupErr)
		}
		return res, errors.Join(runErr, cleanupErr)
	case interrupted:
		return res, fmt.Errorf("%w: %w", ErrInterrupted, runErr)
	default:
		return res, runErr
	}
}

// Discard removes the session named by snap through a freshly opened scan
// database handle, retrying a bounded number of times. Dry snapshots are
// left alone. It does not observe the run's context: it runs precisely when
// that context has been canceled.
func (s *Service) Discard(snap Snapshot) error {
	if snap.Dry || snap.Name == "" {
		return nil
	}

	ctx := context.Background()
	cfg := retry.Fixed(s.cleanupAttempts, s.cleanupWait)
	cfg.OnRetry = func(attempt int, err error) {
		log.Debug().Int("attempt", attempt).Err(err).Str("session", snap.Name).Msg("session cleanup failed, retrying")
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		h, err := s.openForCleanup(ctx)
		if err != nil {
			return err
		}
		defer h.Close()
		return h.DeleteSession(ctx, snap.Name)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCleanupFailed, err)
	}
	log.Info().Str("session", snap.Name).Msg("scan session discarded")
	return nil
}

func (s *Service) openForCleanup(ctx context.Context) (SessionDeleter, error) {
	if s.cleanupOpener == nil {
		return primaryHandle{s.sessions}, nil
	}
	h, err := s.cleanupOpener(ctx)
	if err != nil {
		return nil, fmt.Errorf("reopen scan database: %w", err)
	}
	return h, nil
}

// primaryHandle lets the run's own store stand in for a reopened one.
type primaryHandle struct {
	SessionStore
}

func (primaryHandle) Close() error { return nil }

// sessionName renders "[store_]<id>_<scheme><host><path>".
func (s *Service) sessionName(p Params) string {
	id := fmt.Sprintf("%d%d%s", os.Getpid(), s.now().Unix(), strings.SplitN(uuid.NewString(), "-", 2)[0])
	name := fmt.Sprintf("%s_%s%s%s", id, p.Target.Scheme, p.Target.Host, p.Target.EscapedPath())
	if p.Store != "" {
		name = p.Store + "_" + name
	}
	return name
}

func (s *Service) emit(phase, status, msg string, total int) {
	if s.progressSink == nil {
		return
	}
	s.progressSink.OnEvent(ProgressEvent{
		Phase:     phase,
		Status:    status,
		Message:   msg,
		Total:     total,
		Timestamp: time.Now(),
	})
}

func orAny(pattern string) string {
	if pattern == "" {
		return likepattern.Any
	}
	return pattern
}
