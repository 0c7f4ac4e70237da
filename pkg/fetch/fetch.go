// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package fetch retrieves a set of paths from one target with bounded
// concurrency and reports an MD5 checksum of every response body.
//
// Every path gets up to Retries+1 attempts, each bounded by Timeout. The
// checksum is computed for any status code: a 404 page is as much a
// fingerprint as a 200. Results flow into a Sink as soon as they complete,
// so an interrupted run still leaves every finished path recorded.
package fetch

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vulntor/wafp/pkg/retry"
)

var (
	// ErrInvalidOptions indicates out-of-range tuning.
	ErrInvalidOptions = errors.New("invalid fetch options")
	// ErrInvalidTarget indicates a target URL that cannot be fetched.
	ErrInvalidTarget = errors.New("invalid target URL")
)

// Fetcher fetches paths from a target.
type Fetcher struct {
	opts     Options
	progress Progress
	logger   zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithProgress reports one tick per finished path.
func WithProgress(p Progress) Option {
	return func(f *Fetcher) { f.progress = p }
}

// New validates opts and returns a Fetcher.
func New(opts Options, optFns ...Option) (*Fetcher, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f := &Fetcher{
		opts:   opts,
		logger: log.With().Str("component", "fetch").Logger(),
	}
	for _, fn := range optFns {
		fn(f)
	}
	return f, nil
}

// Options returns the tuning in effect.
func (f *Fetcher) Options() Options { return f.opts }

// ValidateTarget checks that u is an absolute http(s) URL.
func ValidateTarget(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: missing", ErrInvalidTarget)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return nil
}

// Fetch requests every path from target and passes each completed result
// to sink. Paths that fail on every attempt are logged and skipped.
//
// Cancelling ctx stops new requests from starting; requests already on the
// wire run to completion or time out, and their results are still recorded.
// A sink error aborts the run and is returned.
func (f *Fetcher) Fetch(ctx context.Context, target *url.URL, paths []string, sink Sink) (Summary, error) {
	if err := ValidateTarget(target); err != nil {
		return Summary{}, err
	}
	client, err := f.newClient(target)
	if err != nil {
		return Summary{}, err
	}

	paths = NormalizePaths(paths)
	sum := Summary{Requested: len(paths), StatusCodes: make(map[int]int)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)

	f.logger.Debug().
		Str("target", redact(target)).
		Int("paths", len(paths)).
		Int("workers", f.opts.Workers).
		Msg("fetch started")

	for _, p := range paths {
		if gctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			res, err := f.fetchPath(gctx, client, target, p)
			f.tick()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					sum.Skipped++
				}
				return nil
			}
			// Fetched results are recorded even once the run is canceled.
			if err := sink.Record(context.WithoutCancel(ctx), res); err != nil {
				return fmt.Errorf("record %s: %w", res.Path, err)
			}
			sum.Recorded++
			sum.StatusCodes[res.StatusCode]++
			return nil
		})
	}

	err = g.Wait()
	sum.NotStarted = sum.Requested - sum.Recorded - sum.Skipped
	if err != nil {
		return sum, err
	}
	if ctx.Err() != nil {
		f.logger.Warn().Int("not_started", sum.NotStarted).Msg("fetch interrupted")
		return sum, ctx.Err()
	}

	f.logger.Debug().
		Int("recorded", sum.Recorded).
		Int("skipped", sum.Skipped).
		Msg("fetch finished")
	return sum, nil
}

// fetchPath performs up to Retries+1 attempts. Each request runs on a
// context detached from cancellation; the retry loop itself stops once ctx
// is done.
func (f *Fetcher) fetchPath(ctx context.Context, client *resty.Client, target *url.URL, path string) (Result, error) {
	reqURL := requestURL(target, path)
	logger := f.logger.With().Str("path", path).Logger()

	var res Result
	cfg := retry.Config{
		MaxAttempts: f.opts.Retries + 1,
		Wait:        f.opts.RetryWait,
		OnRetry: func(attempt int, err error) {
			if retry.IsTimeout(err) {
				logger.Info().Int("attempt", attempt).Msg("request timed out, retrying")
			} else {
				logger.Info().Int("attempt", attempt).Err(err).Msg("request failed, retrying")
			}
		},
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		resp, err := client.R().
			SetContext(context.WithoutCancel(ctx)).
			Get(reqURL)
		if err != nil {
			return err
		}
		digest := md5.Sum(resp.Body()) // #nosec G401 -- corpus checksums are MD5
		res = Result{
			Path:       path,
			Checksum:   hex.EncodeToString(digest[:]),
			StatusCode: resp.StatusCode(),
		}
		logger.Trace().Int("status", res.StatusCode).Str("checksum", res.Checksum).Msg("fetched")
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case retry.IsTimeout(err):
			logger.Warn().Int("attempts", cfg.MaxAttempts).Msg("request timed out on every attempt, skipping")
		default:
			logger.Warn().Int("attempts", cfg.MaxAttempts).Err(err).Msg("request failed on every attempt, skipping")
		}
		return Result{}, err
	}
	return res, nil
}

func (f *Fetcher) tick() {
	if f.progress == nil {
		return
	}
	if err := f.progress.Add(1); err != nil {
		f.logger.Trace().Err(err).Msg("progress update failed")
	}
}

// newClient builds the resty client shared by every request of one run.
func (f *Fetcher) newClient(target *url.URL) (*resty.Client, error) {
	client := resty.New().
		SetTimeout(f.opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", f.opts.UserAgent).
		SetLogger(newRestyLogger(f.logger)).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	if f.opts.Insecure {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // #nosec G402 -- scanning hosts with self-signed certificates
	}
	if f.opts.Proxy != "" {
		if _, err := url.Parse(f.opts.Proxy); err != nil {
			return nil, fmt.Errorf("%w: proxy: %v", ErrInvalidOptions, err)
		}
		client.SetProxy(f.opts.Proxy)
	}
	if u := target.User; u != nil && u.Username() != "" {
		pass, _ := u.Password()
		client.SetBasicAuth(u.Username(), pass)
	}
	return client, nil
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	return u.Redacted()
}
