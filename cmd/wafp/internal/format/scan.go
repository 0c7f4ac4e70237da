package format

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/vulntor/wafp/pkg/match"
	"github.com/vulntor/wafp/pkg/scanexec"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const separator = "════════════════════════════════════════════════════"

// scanReport is the structured form of a scan result.
type scanReport struct {
	scanexec.Result `yaml:",inline"`
	Shown           int `json:"shown" yaml:"shown"`
}

// PrintScan renders res. Table mode shows the best outlines versions and the
// status code histogram; structured modes carry every score.
func (f *formatter) PrintScan(res *scanexec.Result, outlines int) error {
	if res == nil {
		return nil
	}
	if outlines <= 0 || outlines > len(res.Matches) {
		outlines = len(res.Matches)
	}

	if f.IsStructured() {
		return f.PrintData(scanReport{Result: *res, Shown: outlines})
	}

	var sb strings.Builder
	if !f.quiet {
		f.writeHeader(&sb, res)
	}

	if res.FetchOnly {
		if !f.quiet {
			sb.WriteString(fmt.Sprintf("\nFetch only: %d results recorded, nothing scored.\n", res.Fetch.Recorded))
		}
		_, err := io.WriteString(f.stdout, sb.String())
		return err
	}

	if _, err := io.WriteString(f.stdout, sb.String()); err != nil {
		return err
	}

	if len(res.Matches) == 0 {
		return f.PrintSummary("No versions scored.")
	}

	rows := make([][]string, 0, outlines)
	for i, s := range match.Top(res.Matches, outlines) {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.Label,
			strconv.Itoa(s.Matched),
			strconv.Itoa(s.Total),
			f.percent(s.Percent),
		})
	}
	if err := f.PrintTable([]string{"Rank", "Version", "Matched", "Total", "Score"}, rows); err != nil {
		return err
	}

	if hidden := len(res.Matches) - outlines; hidden > 0 && !f.quiet {
		line := fmt.Sprintf("(%d more, raise --outlines to see them)", hidden)
		if f.color {
			line = subtleStyle.Render(line)
		}
		if _, err := fmt.Fprintln(f.stdout, line); err != nil {
			return err
		}
	}

	if f.quiet || len(res.Statuses) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(f.stdout); err != nil {
		return err
	}
	statusRows := make([][]string, 0, len(res.Statuses))
	for _, st := range res.Statuses {
		statusRows = append(statusRows, []string{strconv.Itoa(st.Code), strconv.Itoa(st.Count)})
	}
	return f.PrintTable([]string{"Status", "Count"}, statusRows)
}

func (f *formatter) writeHeader(sb *strings.Builder, res *scanexec.Result) {
	title := "Scan Result"
	if res.Dry {
		title = "Stored Scan Replay"
	}
	if f.color {
		title = titleStyle.Render(title)
	}
	sb.WriteString(separator + "\n")
	sb.WriteString(title + "\n")

	field := func(name, value string) {
		if value == "" {
			return
		}
		label := fmt.Sprintf("%-12s", name+":")
		if f.color {
			label = labelStyle.Render(label)
		}
		sb.WriteString(label + " " + value + "\n")
	}

	field("Target", res.Target)
	if res.SessionName != "" {
		state := "discarded"
		if res.Retained {
			state = "stored"
		}
		field("Session", fmt.Sprintf("%s (%s)", res.SessionName, state))
	}

	product := res.Product
	if id := res.Identification; id != nil && id.Product != "" {
		product = fmt.Sprintf("%s (identified, best %s at %s)", id.Product, id.Best.Label, formatPercent(id.Best.Percent))
	}
	field("Product", product)
	field("Version", res.Version)

	fetchLine := fmt.Sprintf("%d requested, %d recorded", res.Fetch.Requested, res.Fetch.Recorded)
	if res.Fetch.Skipped > 0 {
		fetchLine += fmt.Sprintf(", %d skipped", res.Fetch.Skipped)
	}
	if res.Fetch.NotStarted > 0 {
		fetchLine += fmt.Sprintf(", %d not started", res.Fetch.NotStarted)
	}
	if res.Dry {
		fetchLine = fmt.Sprintf("%d stored results", res.Fetch.Recorded)
	}
	field("Results", fetchLine)

	if !res.StartTime.IsZero() && !res.EndTime.IsZero() {
		field("Duration", fmt.Sprintf("%.1fs", res.EndTime.Sub(res.StartTime).Seconds()))
	}
	sb.WriteString(separator + "\n\n")
}

func (f *formatter) percent(p float64) string {
	s := formatPercent(p)
	if !f.color {
		return s
	}
	switch {
	case p >= 75:
		return color.GreenString("%s", s)
	case p >= 25:
		return color.YellowString("%s", s)
	default:
		return s
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}
