package commands

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/scanexec"
)

// progressLogger forwards run phase events to the structured log.
type progressLogger struct {
	logger zerolog.Logger
}

func (p *progressLogger) OnEvent(ev scanexec.ProgressEvent) {
	var e *zerolog.Event
	switch ev.Status {
	case "failed":
		e = p.logger.Warn()
	case "start":
		e = p.logger.Debug()
	default:
		e = p.logger.Info()
	}
	if ev.Total > 0 {
		e = e.Int("total", ev.Total)
	}
	e.Str("phase", ev.Phase).Str("status", ev.Status).Time("at", ev.Timestamp).Msg(ev.Message)
}

// showProgress reports whether fetch progress bars should be drawn. Bars
// need an interactive stderr and would garble structured output or logs.
func showProgress(cmd *cobra.Command, f format.Formatter) bool {
	if f.IsStructured() {
		return false
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return false
	}
	if v, _ := cmd.Flags().GetCount("verbosity"); v > 0 {
		return false
	}
	w, ok := cmd.ErrOrStderr().(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

// newProgressBars returns a factory drawing one bar per fetch phase on w.
func newProgressBars(w io.Writer, colors bool) scanexec.ProgressFactory {
	return func(phase string, total int) fetch.Progress {
		return progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(phase),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionEnableColorCodes(colors),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
}
