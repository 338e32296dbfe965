package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/service"
)

const maxErrorColumn = 60

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func renderStats(w io.Writer, stats *model.JobStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "STATUS\tCOUNT\n"); err != nil {
		return err
	}
	for _, status := range model.AllJobStatuses() {
		if err := writef(tw, "%s\t%d\n", status, stats.ByStatus(status)); err != nil {
			return err
		}
	}
	if err := writef(tw, "TOTAL\t%d\n", stats.Total); err != nil {
		return err
	}
	return tw.Flush()
}

func renderJobs(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writef(w, "no jobs\n")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tTENANT\tSTATUS\tRETRIES\tCREATED\tERROR\n"); err != nil {
		return err
	}
	for _, j := range jobs {
		errMsg := "-"
		if j.ErrorMessage != nil {
			errMsg = truncate(*j.ErrorMessage, maxErrorColumn)
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.TenantID,
			j.Status,
			strconv.Itoa(j.RetryCount)+"/"+strconv.Itoa(j.MaxRetries),
			j.CreatedAt.UTC().Format(time.RFC3339),
			errMsg,
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func renderPendingMigrations(w io.Writer, pending []string) error {
	if len(pending) == 0 {
		return writef(w, "schema is up to date\n")
	}
	if err := writef(w, "%d pending migration(s):\n", len(pending)); err != nil {
		return err
	}
	for _, v := range pending {
		if err := writef(w, "  %s\n", v); err != nil {
			return err
		}
	}
	return nil
}

func renderCleanupReport(w io.Writer, report service.CleanupReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value int64
	}{
		{"requeued expired leases", report.Requeued},
		{"deleted completed jobs", report.DeletedCompleted},
		{"deleted dead-lettered jobs", report.DeletedDLQ},
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%d\n", row.label, row.value); err != nil {
			return err
		}
	}
	if err := writef(tw, "elapsed\t%s\n", report.Elapsed.Round(time.Millisecond)); err != nil {
		return err
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
