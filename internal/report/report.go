// Package report renders a run Summary as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/article-harvester/internal/engine"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Render writes the summary to w.
func Render(w io.Writer, s engine.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", s.RunID, runLabel(s))
	fmt.Fprintf(&b, "Stopped: %s after %s\n", orDash(s.StopReason), s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	b.WriteString(statusTable(s))
	b.WriteString("\n")
	b.WriteString(channelTable(s))
	b.WriteString("\n")
	b.WriteString(tierTable(s))
	b.WriteString("\n")
	if len(s.Budget) > 0 {
		b.WriteString(budgetTable(s))
		b.WriteString("\n")
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func runLabel(s engine.Summary) string {
	if s.Resumed {
		return "resumed"
	}
	return "new"
}

func statusTable(s engine.Summary) string {
	rows := [][]string{
		{string(retrieval.TargetSuccess), fmt.Sprint(s.Statuses[retrieval.TargetSuccess])},
		{string(retrieval.TargetFailed), fmt.Sprint(s.Statuses[retrieval.TargetFailed])},
		{string(retrieval.TargetSkipped), fmt.Sprint(s.Statuses[retrieval.TargetSkipped])},
		{"already done", fmt.Sprint(s.AlreadyDone)},
		{"rediscovered", fmt.Sprint(s.Rediscovered)},
		{"publish failures", fmt.Sprint(s.PublishFailures)},
	}
	return renderTable([]string{"Targets", "Count"}, rows, []text.Align{text.AlignLeft, text.AlignRight})
}

func channelTable(s engine.Summary) string {
	ids := make([]retrieval.ChannelID, 0, len(s.Channels))
	for _, id := range retrieval.AllChannels {
		if _, ok := s.Channels[id]; ok {
			ids = append(ids, id)
		}
	}
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		st := s.Channels[id]
		rows = append(rows, []string{
			string(id),
			fmt.Sprint(st.Attempts),
			fmt.Sprint(st.Successes),
			fmt.Sprint(st.Failures),
			fmt.Sprint(st.Skips),
		})
	}
	right := text.AlignRight
	return renderTable(
		[]string{"Channel", "Attempts", "Successes", "Failures", "Skips"},
		rows,
		[]text.Align{text.AlignLeft, right, right, right, right},
	)
}

func tierTable(s engine.Summary) string {
	rows := make([][]string, 0, len(retrieval.AllTiers))
	for _, tier := range retrieval.AllTiers {
		rows = append(rows, []string{string(tier), fmt.Sprint(s.Tiers[tier])})
	}
	return renderTable([]string{"Tier", "Count"}, rows, []text.Align{text.AlignLeft, text.AlignRight})
}

func budgetTable(s engine.Summary) string {
	states := append(s.Budget[:0:0], s.Budget...)
	sort.Slice(states, func(i, j int) bool { return states[i].ChannelID < states[j].ChannelID })
	rows := make([][]string, 0, len(states))
	for _, st := range states {
		rows = append(rows, []string{
			string(st.ChannelID),
			fmt.Sprintf("%d / %s", st.SessionsUsedToday, ceiling(st.Ceiling.DailySessions)),
			fmt.Sprintf("%d / %s", st.SessionsUsedThisRun, ceiling(st.Ceiling.RunSessions)),
			fmt.Sprintf("%.1f", st.MinutesUsed),
		})
	}
	right := text.AlignRight
	return renderTable(
		[]string{"Budget", "Today", "This run", "Minutes"},
		rows,
		[]text.Align{text.AlignLeft, right, right, right},
	)
}

func ceiling(n int) string {
	if n <= 0 {
		return "∞"
	}
	return fmt.Sprint(n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) {
			align = aligns[i]
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
