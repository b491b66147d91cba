// cmd_list.go - Runs Command
// Hauptfunktionen: RunsHandler
package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/ddpm/envconfig"
	"github.com/ollama/ddpm/runlog"
)

func newTable(cmd *cobra.Command, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// RunsHandler - Listet Trainingslaeufe oder die letzten Werte eines Laufs
func RunsHandler(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("runlog")
	if path == "" {
		path = envconfig.RunLog()
	}

	store, err := runlog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(cmd, store, args[0])
	}

	runs, err := store.Runs()
	if err != nil {
		return err
	}

	var data [][]string
	for _, r := range runs {
		data = append(data, []string{r.ID[:min(len(r.ID), 13)], r.Name, r.Status, humanTime(r.StartedAt), humanTime(r.FinishedAt)})
	}

	table := newTable(cmd, []string{"ID", "NAME", "STATUS", "STARTED", "FINISHED"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

func showRun(cmd *cobra.Command, store *runlog.Store, id string) error {
	run, err := store.Run(id)
	if err != nil {
		return err
	}

	scalars, err := store.LastScalars(run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n\n", run.ID, run.Name, run.Status)

	var data [][]string
	for _, s := range scalars {
		data = append(data, []string{s.Tag, strconv.Itoa(s.Step), strconv.FormatFloat(s.Value, 'g', 6, 64), humanTime(s.WallTime)})
	}

	table := newTable(cmd, []string{"TAG", "STEP", "VALUE", "TIME"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

// newRunsCmd - Erstellt den runs Command
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List training runs or show the latest values of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunsHandler,
	}

	cmd.Flags().String("runlog", "", "Run log database (default $DDPM_RUNLOG)")
	return cmd
}
