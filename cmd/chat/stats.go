package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
)

const attemptsMetric = "dispatcher_attempts_total"

// formatAttempts renders the dispatcher attempt counters collected this session.
func formatAttempts(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", err
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Endpoint", "Outcome", "Attempts"})
	total := 0
	for _, mf := range families {
		if mf.GetName() != attemptsMetric {
			continue
		}
		for _, m := range mf.GetMetric() {
			var endpoint, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "endpoint":
					endpoint = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			n := int(m.GetCounter().GetValue())
			total += n
			t.AppendRow(table.Row{endpoint, outcome, n})
		}
	}
	t.SetCaption("%d attempts", total)
	return t.Render(), nil
}
