package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cronnarc/cronguard/internal/analytics"
	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/store"
)

var uptimeCmd = &cobra.Command{
	Use:   "uptime <monitor-id>",
	Short: "Print the uptime report of a monitor",
	Long: `Print uptime for the 24h, 7d, 30d, 90d and all-time windows together
with the incident summary of the last 30 days.

Examples:
  cronguard uptime 3f6c0b6e-...
  cronguard uptime 3f6c0b6e-... -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := analytics.NewService(st, analytics.Options{}).MonitorReport(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("monitor %s: %w", args[0], err)
		}
		return printReport(cmd.OutOrStdout(), report, output)
	},
}

func init() {
	rootCmd.AddCommand(uptimeCmd)
}

func printReport(w io.Writer, r analytics.MonitorReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		// round trip through JSON so keys match the API
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "%s (%s)  %s\n\n", r.Name, r.Slug, r.Status)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tUPTIME\tDOWNTIME")
	for _, wu := range r.Windows {
		fmt.Fprintf(tw, "%s\t%.2f%%\t%s\n", wu.Window, wu.UptimePercent, time.Duration(wu.DowntimeSeconds)*time.Second)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	inc := r.Incidents30d
	fmt.Fprintf(w, "\nincidents (30d): %d, %d ongoing, average %s, longest %s\n",
		inc.Total,
		inc.Ongoing,
		time.Duration(inc.AverageDurationSeconds)*time.Second,
		time.Duration(inc.LongestSeconds)*time.Second,
	)
	return nil
}
