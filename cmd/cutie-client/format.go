package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/richb-hanover/cutie/internal/latency"
	"github.com/richb-hanover/cutie/internal/probestore"
)

func formatMs(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "ms"
}

func lossPercent(s latency.Stats) float64 {
	if s.TotalSent == 0 {
		return 0
	}
	return float64(s.TotalLost) / float64(s.TotalSent) * 100
}

// statusLine is the one-line live view of a run.
func statusLine(s latency.Stats) string {
	return fmt.Sprintf("latency %s  avg %s  jitter %s  sent %d  received %d  lost %d (%.1f%%)",
		formatMs(s.LastLatencyMs), formatMs(s.AverageLatencyMs), formatMs(s.JitterMs),
		s.TotalSent, s.TotalReceived, s.TotalLost, lossPercent(s))
}

func writeSummary(w io.Writer, s latency.Stats) {
	fmt.Fprintf(w, "total_sent=%d\n", s.TotalSent)
	fmt.Fprintf(w, "total_received=%d\n", s.TotalReceived)
	fmt.Fprintf(w, "total_lost=%d\n", s.TotalLost)
	fmt.Fprintf(w, "loss_percent=%.2f\n", lossPercent(s))
	if s.AverageLatencyMs != nil {
		fmt.Fprintf(w, "average_latency_ms=%.3f\n", *s.AverageLatencyMs)
	}
	if s.JitterMs != nil {
		fmt.Fprintf(w, "jitter_ms=%.3f\n", *s.JitterMs)
	}
}

func writeRuns(w io.Writer, runs []probestore.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tREASON\tSENT\tLOST\tAVG\tJITTER\tPROBES")
	for _, r := range runs {
		reason := r.StopReason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), reason,
			r.TotalSent, r.TotalLost, formatMs(r.AverageLatencyMs), formatMs(r.JitterMs), r.Probes)
	}
	_ = tw.Flush()
}
