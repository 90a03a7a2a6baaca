package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"moviequiz/pkg/pipeline"
	"moviequiz/pkg/probe"
	"moviequiz/pkg/tracker"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = v
		}
		t.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(aligns))
	for i, a := range aligns {
		if a == alignRight {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight, AlignHeader: text.AlignRight})
		}
	}
	if len(configs) > 0 {
		t.SetColumnConfigs(configs)
	}
	t.Render()
}

func renderReport(w io.Writer, rep *pipeline.Report) {
	rows := make([][]string, 0, len(rep.Stages))
	for _, s := range rep.Stages {
		status := "ok"
		if s.Err != nil {
			status = s.Err.Error()
		}
		rows = append(rows, []string{string(s.Stage), stageSummary(rep, s.Stage), s.Duration.Round(time.Millisecond).String(), status})
	}
	renderTable(w, []string{"Stage", "Result", "Duration", "Status"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
}

func stageSummary(rep *pipeline.Report, stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageDiscover:
		if d := rep.Discover; d != nil {
			return fmt.Sprintf("%d ranked in %d pages (target %d)", d.Fetched, d.Pages, d.Target)
		}
	case pipeline.StageDetails:
		if d := rep.Details; d != nil {
			return fmt.Sprintf("%d movies, %d missing, %d/%d pages failed", d.Movies, d.Missing, d.FailedPages, d.Pages)
		}
	case pipeline.StageTranslate:
		if t := rep.Translate; t != nil {
			return fmt.Sprintf("%d titles, %d/%d batches failed", t.Translated, t.FailedBatches, t.Batches)
		}
	}
	return "-"
}

func renderRequests(w io.Writer, t *tracker.Tracker) {
	snap := t.Snapshot()
	if len(snap) == 0 {
		return
	}
	var rows [][]string
	for _, name := range t.Providers() {
		s := snap[name]
		rows = append(rows, []string{
			name,
			strconv.FormatInt(s.APISuccess, 10),
			strconv.FormatInt(s.APIFailures, 10),
			strconv.FormatInt(s.APIRetries, 10),
			strconv.FormatInt(s.CacheHits, 10),
		})
	}
	renderTable(w, []string{"Provider", "OK", "Failed", "Retries", "Cache hits"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight})
}

func renderProbes(w io.Writer, results []probe.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if r.Error != nil {
			status = r.Error.Error()
		}
		critical := "no"
		if r.Probe.Critical {
			critical = "yes"
		}
		rows = append(rows, []string{r.Probe.Name, critical, r.Duration.Round(time.Millisecond).String(), status})
	}
	renderTable(w, []string{"Check", "Critical", "Duration", "Status"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
}
