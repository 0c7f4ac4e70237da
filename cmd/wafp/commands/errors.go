package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/config"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/scanexec"
	"github.com/vulntor/wafp/pkg/workspace"
)

const (
	errorCodeInvalidOptions = "INVALID_OPTIONS"
	errorCodeWorkspaceLock  = "WORKSPACE_LOCKED"
)

// usageError marks command-line mistakes: unknown flags, wrong argument
// counts, bad output modes.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// reportedError wraps an error whose summary was already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// usageArgs wraps a cobra argument validator so its failures exit as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return scanexec.ExitOK
	}

	var usage *usageError
	switch {
	case errors.As(err, &usage),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, workspace.ErrLocked):
		return scanexec.ExitUsage
	case errors.Is(err, fingerprint.ErrInvalidCorpus):
		return fingerprint.ExitCode(err)
	}
	return scanexec.ExitCode(err)
}

func errorCode(err error) string {
	var usage *usageError
	switch {
	case errors.As(err, &usage), errors.Is(err, config.ErrInvalidConfig):
		return errorCodeInvalidOptions
	case errors.Is(err, workspace.ErrLocked):
		return errorCodeWorkspaceLock
	case errors.Is(err, fingerprint.ErrInvalidCorpus):
		return fingerprint.ErrorCode(err)
	}
	return scanexec.ErrorCode(err)
}

func suggestions(err error) []string {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return []string{
			"Threads must be 1-256, timeout 1-300 seconds, retries 0-256",
			"Check the config file and WAFP_* variables",
		}
	case errors.Is(err, workspace.ErrLocked):
		return []string{"Wait for the other wafp process to finish, then retry"}
	case errors.Is(err, fingerprint.ErrInvalidCorpus):
		return fingerprint.Suggestions(err)
	}
	return scanexec.Suggestions(err)
}

// fail prints the failure summary for operation and returns err marked as reported.
func fail(f format.Formatter, operation string, err error) error {
	if printErr := f.PrintTotalFailureSummary(operation, err, errorCode(err), suggestions(err)); printErr != nil {
		return err
	}
	return &reportedError{err: err}
}
