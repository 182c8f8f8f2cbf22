package progress

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

var statusColours = map[domain.FileStatus]color.Color{
	domain.StatusCompleted:  color.FgGreen,
	domain.StatusSkipped:    color.FgCyan,
	domain.StatusFailed:     color.FgRed,
	domain.StatusPending:    color.FgYellow,
	domain.StatusInProgress: color.FgYellow,
}

// WriteSummary renders the per-file outcome table of a finished run.
// Failed files are listed first.
func WriteSummary(w io.Writer, result *domain.RunResult, colours bool) {
	outcomes := make([]domain.FileOutcome, len(result.Outcomes))
	copy(outcomes, result.Outcomes)
	sort.SliceStable(outcomes, func(i, j int) bool {
		fi, fj := outcomes[i].Status.IsTerminal(), outcomes[j].Status.IsTerminal()
		if fi != fj {
			return !fi
		}
		return outcomes[i].Name < outcomes[j].Name
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Status", "Size", "Retries", "Server", "Error"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, o := range outcomes {
		status := string(o.Status)
		if c, ok := statusColours[o.Status]; ok && colours {
			status = c.Render(status)
		}
		table.Append([]string{
			o.Name,
			status,
			humanize.IBytes(uint64(max(o.Bytes, 0))),
			strconv.Itoa(o.RetryCount),
			o.ServerUsed,
			o.Error,
		})
	}

	s := result.Summary
	table.SetFooter([]string{
		fmt.Sprintf("%d files", s.TotalFiles),
		fmt.Sprintf("%d ok / %d failed", s.CompletedFiles+s.SkippedFiles, len(result.Failed())),
		humanize.IBytes(uint64(max(s.DownloadedBytes, 0))),
		"",
		"",
		result.Duration().Round(1e6).String(),
	})
	table.Render()
}

var runStatusColours = map[string]color.Color{
	domain.RunStatusCompleted: color.FgGreen,
	domain.RunStatusPartial:   color.FgYellow,
	domain.RunStatusFailed:    color.FgRed,
	domain.RunStatusCancelled: color.FgYellow,
	domain.RunStatusRunning:   color.FgCyan,
}

// WriteHistory renders past runs, newest first, followed by aggregate stats
// when stats is non-nil.
func WriteHistory(w io.Writer, runs []*domain.RunRecord, stats *domain.HistoryStats, colours bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started", "Identifier", "Status", "Files", "Downloaded", "Error"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, r := range runs {
		status := r.Status
		if c, ok := runStatusColours[r.Status]; ok && colours {
			status = c.Render(status)
		}
		table.Append([]string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Identifier,
			status,
			fmt.Sprintf("%d/%d", r.CompletedFiles+r.SkippedFiles, r.TotalFiles),
			humanize.IBytes(uint64(max(r.DownloadedBytes, 0))),
			r.ErrorMessage,
		})
	}
	table.Render()

	if stats != nil {
		fmt.Fprintf(w, "%d runs, %d completed, %d failed, %s downloaded\n",
			stats.TotalRuns, stats.CompletedRuns, stats.FailedRuns,
			humanize.IBytes(uint64(max(stats.DownloadedBytes, 0))))
	}
}
