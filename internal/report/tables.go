// Package report renders walk results as console tables and HTML charts.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// WriteTableSizes prints the store's per-table row counts.
func WriteTableSizes(w io.Writer, sizes []metricdb.TableSize) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Rows"})

	for _, size := range sizes {
		t.AppendRow(table.Row{size.Table, humanize.Comma(int64(size.Rows))})
	}

	t.Render()
}

// WriteWalkSummary prints what one walk did.
func WriteWalkSummary(w io.Writer, summary rosdistro.Summary, elapsed time.Duration) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(w, "%s %s commits walked in %s\n",
		bold("done:"), humanize.Comma(int64(summary.Commits)), elapsed.Round(time.Second))
	fmt.Fprintf(w, "  %s already classified, %s newly classified\n",
		humanize.Comma(int64(summary.AlreadyDone)), green(humanize.Comma(int64(summary.NewlyClassified))))
	fmt.Fprintf(w, "  %d repo-count checkpoints, %d tag checkpoints\n",
		summary.RepoCounts, summary.TagChecks)
}

// WriteMonthlyCounts prints a month-bucketed counter series with one
// column per value, most frequent values first.
func WriteMonthlyCounts(w io.Writer, title string, buckets map[rosdistro.MonthKey]map[string]int) {
	totals := make(map[string]int)
	for _, bucket := range buckets {
		for value, count := range bucket {
			totals[value] += count
		}
	}

	values := make([]string, 0, len(totals))
	for value := range totals {
		values = append(values, value)
	}

	sort.Slice(values, func(i, j int) bool {
		if totals[values[i]] != totals[values[j]] {
			return totals[values[i]] > totals[values[j]]
		}

		return values[i] < values[j]
	})

	months := make([]rosdistro.MonthKey, 0, len(buckets))
	for month := range buckets {
		months = append(months, month)
	}

	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}

		return months[i].Month < months[j].Month
	})

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)

	header := table.Row{"Month"}
	for _, value := range values {
		header = append(header, value)
	}

	t.AppendHeader(header)

	for _, month := range months {
		row := table.Row{fmt.Sprintf("%04d-%02d", month.Year, int(month.Month))}
		for _, value := range values {
			row = append(row, buckets[month][value])
		}

		t.AppendRow(row)
	}

	t.Render()
}

// WriteRepoStatuses prints the repo table's status breakdown.
func WriteRepoStatuses(w io.Writer, db *metricdb.DB) error {
	counts, err := db.UniqueCounts("repos", "status")
	if err != nil {
		return err
	}

	type statusCount struct {
		status string
		count  int64
	}

	rows := make([]statusCount, 0, len(counts))

	for status, count := range counts {
		name := "active"
		if status != nil {
			name = fmt.Sprint(status)
		}

		n, _ := count.(int64)
		rows = append(rows, statusCount{status: name, count: n})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].count > rows[j].count })

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Repositories")
	t.AppendHeader(table.Row{"Status", "Count"})

	for _, row := range rows {
		t.AppendRow(table.Row{row.status, row.count})
	}

	t.Render()

	return nil
}
