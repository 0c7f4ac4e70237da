package bind

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/pkg/config"
	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/scanexec"
)

var validate = validator.New()

// ScanOptions holds everything the scan command needs to run.
type ScanOptions struct {
	Params   scanexec.Params
	Fetch    fetch.Options
	Outlines int
	LowMem   bool
}

// scanFlags are the command-local scan flags before interpretation.
type scanFlags struct {
	Product string `validate:"max=256"`
	Version string `validate:"max=256"`
	Store   string `validate:"omitempty,max=128,printascii,excludesall= "`
	Dry     string `validate:"omitempty,max=4096"`
}

// BindScanOptions extracts and validates scan command flags.
//
// Tunables (threads, timeout, retries, sample size, outlines, user agent,
// proxy, TLS verification, low-mem) come from cfg, which already merges the
// config file, WAFP_* variables and their flags. The filter and mode flags
// are read here:
//   - -p/--product, -V/--pversion: LIKE patterns
//   - -s/--store: keep the session under this prefix
//   - -f/--fetch: fetch only
//   - -d/--dry: replay a stored scan
//   - --any: fingerprint against every product
//
// Returns an error if validation fails.
func BindScanOptions(cmd *cobra.Command, args []string, cfg config.Config) (ScanOptions, error) {
	var raw scanFlags
	raw.Product, _ = cmd.Flags().GetString("product")
	raw.Version, _ = cmd.Flags().GetString("pversion")
	raw.Store, _ = cmd.Flags().GetString("store")
	raw.Dry, _ = cmd.Flags().GetString("dry")
	fetchOnly, _ := cmd.Flags().GetBool("fetch")
	anyProduct, _ := cmd.Flags().GetBool("any")

	opts := ScanOptions{
		Params: scanexec.Params{
			Product:    strings.TrimSpace(raw.Product),
			Version:    strings.TrimSpace(raw.Version),
			Any:        anyProduct,
			Store:      raw.Store,
			FetchOnly:  fetchOnly,
			Dry:        raw.Dry,
			SampleSize: cfg.Scan.SampleSize,
		},
		Fetch: fetch.Options{
			Workers:   cfg.Scan.Threads,
			Timeout:   time.Duration(cfg.Scan.Timeout) * time.Second,
			Retries:   cfg.Scan.Retries,
			UserAgent: cfg.Scan.UserAgent,
			Proxy:     cfg.Scan.Proxy,
			Insecure:  cfg.Scan.Insecure,
		},
		Outlines: cfg.Scan.Outlines,
		LowMem:   cfg.Scan.LowMem,
	}

	if err := validate.Struct(raw); err != nil {
		return opts, fmt.Errorf("%w: %v", scanexec.ErrInvalidParams, err)
	}
	if anyProduct && opts.Params.Product != "" {
		return opts, fmt.Errorf("%w: --any and --product are mutually exclusive", scanexec.ErrInvalidParams)
	}

	if len(args) > 0 {
		target, err := ParseTarget(args[0])
		if err != nil {
			return opts, err
		}
		opts.Params.Target = target
	} else if raw.Dry == "" {
		return opts, scanexec.NewInvalidTargetError("", nil)
	}

	if err := opts.Params.Validate(); err != nil {
		return opts, err
	}
	if raw.Dry == "" {
		if err := opts.Fetch.Validate(); err != nil {
			return opts, err
		}
	}

	return opts, nil
}

// ParseTarget parses and checks a target URL given on the command line.
func ParseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,url"); err != nil {
		return nil, scanexec.NewInvalidTargetError(raw, fetch.ErrInvalidTarget)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, scanexec.NewInvalidTargetError(raw, fmt.Errorf("%w: %v", fetch.ErrInvalidTarget, err))
	}
	if err := fetch.ValidateTarget(u); err != nil {
		return nil, scanexec.NewInvalidTargetError(u.Redacted(), err)
	}
	return u, nil
}
