package scanexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/match"
	"github.com/vulntor/wafp/pkg/storage"
)

// Sentinel errors for run failures.
var (
	// ErrNoTarget indicates neither a target URL nor a stored scan was given.
	ErrNoTarget = errors.New("no target URL and no stored scan specified")

	// ErrInterrupted indicates the run was canceled and its session discarded.
	ErrInterrupted = errors.New("scan interrupted")

	// ErrCleanupFailed indicates a session could not be removed. The scan
	// database may hold a partial session afterwards.
	ErrCleanupFailed = errors.New("scan session cleanup failed")

	// ErrInvalidParams indicates a conflicting combination of run options.
	ErrInvalidParams = errors.New("invalid scan parameters")
)

// Error codes used by the CLI suggestion system.
const (
	errorCodeInvalidTarget       = "INVALID_TARGET"
	errorCodeInvalidOptions      = "INVALID_OPTIONS"
	errorCodeNoFingerprints      = "NO_FINGERPRINTS"
	errorCodeCorpusMissing       = "CORPUS_MISSING"
	errorCodeScanNotFound        = "SCAN_NOT_FOUND"
	errorCodeProductUnidentified = "PRODUCT_UNIDENTIFIED"
	errorCodeCleanupFailed       = "CLEANUP_FAILED"
	errorCodeInterrupted         = "INTERRUPTED"
	errorCodeScanFailure         = "SCAN_FAILURE"
)

// Exit statuses.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitData        = 3
	ExitCleanup     = 4
	ExitInterrupted = 130
)

// codedError wraps an error with an explicit error code.
type codedError struct {
	error
	code string
}

func (e *codedError) Error() string {
	return e.error.Error()
}

func (e *codedError) Unwrap() error {
	return e.error
}

func (e *codedError) Code() string {
	return e.code
}

// WithErrorCode wraps err with a specific CLI error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{error: err, code: code}
}

// ErrorCode resolves a run error into a CLI error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrCleanupFailed):
		return errorCodeCleanupFailed
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return errorCodeInterrupted
	case errors.Is(err, ErrNoTarget), errors.Is(err, fetch.ErrInvalidTarget):
		return errorCodeInvalidTarget
	case errors.Is(err, ErrInvalidParams), errors.Is(err, fetch.ErrInvalidOptions), errors.Is(err, storage.ErrInvalidInput):
		return errorCodeInvalidOptions
	case errors.Is(err, fingerprint.ErrNoFingerprints):
		return errorCodeNoFingerprints
	case errors.Is(err, fingerprint.ErrCorpusMissing):
		return errorCodeCorpusMissing
	case errors.Is(err, storage.ErrNotFound):
		return errorCodeScanNotFound
	case errors.Is(err, match.ErrProductUnidentified):
		return errorCodeProductUnidentified
	}

	return errorCodeScanFailure
}

// ExitCode maps run errors to process exit statuses.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch ErrorCode(err) {
	case errorCodeProductUnidentified:
		return ExitOK
	case errorCodeInvalidTarget, errorCodeInvalidOptions:
		return ExitUsage
	case errorCodeNoFingerprints, errorCodeCorpusMissing, errorCodeScanNotFound:
		return ExitData
	case errorCodeCleanupFailed:
		return ExitCleanup
	case errorCodeInterrupted:
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// IsWarning reports errors that end the run without failing it.
func IsWarning(err error) bool {
	return err != nil && ErrorCode(err) == errorCodeProductUnidentified
}

// Suggestions provides CLI hints for run errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeInvalidTarget:
		return []string{
			"Scan a live site:           wafp scan https://example.org/",
			"Replay a stored scan:       wafp scan --dry <name>",
			"List stored scans:          wafp stores",
		}
	case errorCodeInvalidOptions:
		return []string{
			"Threads must be 1-256, timeout 1-300 seconds, retries 0-256",
			"Run help for options:       wafp scan --help",
		}
	case errorCodeNoFingerprints:
		return []string{
			"List known products:        wafp products",
			"Relax the filters:          wafp scan <url> -p '%' -V '%'",
		}
	case errorCodeCorpusMissing:
		return []string{
			"Point at a corpus:          wafp --fingerprint-db /path/to/fprints_wafp.db scan <url>",
			"Build one from YAML:        wafp corpus import corpus.yaml",
		}
	case errorCodeScanNotFound:
		return []string{
			"List stored scans:          wafp stores",
		}
	case errorCodeProductUnidentified:
		return []string{
			"Fetch every known path:     wafp scan <url> --any",
			"Guess the product:          wafp scan <url> -p <product>",
		}
	case errorCodeCleanupFailed:
		return []string{
			"Find the leftover session:  wafp stores",
			"Remove it:                  wafp stores rm <session>",
		}
	case errorCodeInterrupted:
		return nil
	default:
		return []string{
			"Retry with verbose logs:    wafp -vv scan <url>",
		}
	}
}

// NewInvalidTargetError annotates an invalid target input with context.
func NewInvalidTargetError(input string, reason error) error {
	base := ErrNoTarget
	if input != "" {
		base = fmt.Errorf("invalid target %q: %w", input, reason)
	}
	return WithErrorCode(base, errorCodeInvalidTarget)
}
