package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/xxxsen/bkimport/internal/model"
)

func renderTable(headers []string, rows [][]string, rightAligned map[int]bool) string {
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
		if rightAligned[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func renderSessions(items []model.ImportSession) string {
	rows := make([][]string, 0, len(items))
	for _, s := range items {
		rows = append(rows, []string{s.ID, s.UserID, s.Name, string(s.Status), formatMillis(s.LastProcessedAt)})
	}
	return renderTable([]string{"Session", "User", "Name", "Status", "Last Progress"}, rows, nil)
}

func renderProgress(p *model.SessionProgress) string {
	s := p.Session
	c := p.Counts
	rows := [][]string{
		{"Session", s.ID},
		{"Name", s.Name},
		{"Status", string(s.Status)},
		{"Progress", strconv.Itoa(p.Percent) + "%"},
		{"Pending", itoa(c.Pending)},
		{"Processing", itoa(c.Processing)},
		{"Accepted", itoa(c.Accepted)},
		{"Rejected", itoa(c.Rejected)},
		{"Skipped (duplicate)", itoa(c.SkippedDuplicate)},
		{"Failed", itoa(c.Failed)},
		{"Last Progress", formatMillis(s.LastProcessedAt)},
	}
	if s.FailReason != "" {
		rows = append(rows, []string{"Fail Reason", s.FailReason})
	}
	return renderTable([]string{"Field", "Value"}, rows, map[int]bool{1: true})
}
