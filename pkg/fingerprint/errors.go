package fingerprint

import (
	"errors"
	"fmt"
)

const (
	errorCodeNoFingerprints = "NO_FINGERPRINTS"
	errorCodeCorpusMissing  = "CORPUS_MISSING"
	errorCodeInvalidCorpus  = "INVALID_CORPUS"
	errorCodeCorpusFailure  = "CORPUS_FAILURE"
)

var (
	// ErrNoFingerprints indicates the product/version filter selected no paths.
	ErrNoFingerprints = errors.New("no fingerprints for this product/version")
	// ErrCorpusMissing indicates the fingerprint database file does not exist.
	ErrCorpusMissing = errors.New("fingerprint database missing")
	// ErrInvalidCorpus indicates a corpus document failed validation.
	ErrInvalidCorpus = errors.New("invalid corpus")
)

type errorCoder interface {
	error
	Code() string
}

type withCodeError struct {
	error
	code string
}

func (e *withCodeError) Code() string {
	return e.code
}

func (e *withCodeError) Unwrap() error {
	return e.error
}

// WithErrorCode annotates err with a fingerprint error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewNoFingerprintsError formats an empty selection for the given filter.
func NewNoFingerprintsError(f Filter) error {
	return WithErrorCode(fmt.Errorf("%w (product %q, version %q)", ErrNoFingerprints, f.Product.String(), f.Version.String()), errorCodeNoFingerprints)
}

// NewCorpusMissingError formats a missing fingerprint database.
func NewCorpusMissingError(path string, cause error) error {
	return WithErrorCode(fmt.Errorf("%w: %s: %w", ErrCorpusMissing, path, cause), errorCodeCorpusMissing)
}

// NewInvalidCorpusError formats a corpus validation failure.
func NewInvalidCorpusError(format string, args ...any) error {
	return WithErrorCode(fmt.Errorf("%w: %s", ErrInvalidCorpus, fmt.Sprintf(format, args...)), errorCodeInvalidCorpus)
}

// ErrorCode resolves an error to its fingerprint error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded errorCoder
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrNoFingerprints):
		return errorCodeNoFingerprints
	case errors.Is(err, ErrCorpusMissing):
		return errorCodeCorpusMissing
	case errors.Is(err, ErrInvalidCorpus):
		return errorCodeInvalidCorpus
	default:
		return errorCodeCorpusFailure
	}
}

// ExitCode maps fingerprint errors to CLI exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrInvalidCorpus):
		return 2
	case errors.Is(err, ErrNoFingerprints),
		errors.Is(err, ErrCorpusMissing):
		return 3
	default:
		return 1
	}
}

// Suggestions provides CLI hints for fingerprint errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeNoFingerprints:
		return []string{
			"List known products:        wafp products",
			"Widen the filter:           wafp scan <url> -p 'word%' -V '2.%'",
		}
	case errorCodeCorpusMissing:
		return []string{
			"Point at a corpus:          wafp --fingerprint-db /path/to/fprints_wafp.db",
			"Build one from YAML:        wafp corpus import corpus.yaml",
		}
	case errorCodeInvalidCorpus:
		return []string{
			"Every version needs a name and a version string",
			"Checksums are 32 hex characters (MD5)",
		}
	default:
		return []string{
			"Retry with verbose logs:    wafp -vv <command>",
		}
	}
}
