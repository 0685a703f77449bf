package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/intelletix/sudbury-directory/internal/chatclient"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a test message to every endpoint once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := newDispatcher()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatProbe(d.Probe(cmd.Context())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func formatProbe(results []chatclient.ProbeResult) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Endpoint", "Status", "Time", "Error"})
	ok := 0
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		if r.Status == "OK" {
			ok++
		}
		t.AppendRow(table.Row{r.Endpoint, r.Status, r.Elapsed.Round(time.Millisecond), errText})
	}
	t.SetCaption("%d/%d endpoints answering", ok, len(results))
	return t.Render()
}
