package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory and cache stats of a running instance",
	Long: `Fetch the stats report from a running papin-opt diagnostics server.
The address defaults to the configured diagnostics host and port.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Trigger a reclamation pass on a running instance",
	Long: `Ask a running papin-opt to reclaim memory. A light pass removes
expired cache entries; --aggressive clears every cache.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(gcCmd)

	for _, cmd := range []*cobra.Command{statsCmd, gcCmd} {
		cmd.Flags().String("addr", "", "Diagnostics server address (default from config)")
		cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	}
	statsCmd.Flags().StringP("format", "f", "table", "Output format: table or json")
	gcCmd.Flags().Bool("aggressive", false, "Clear every cache instead of only expired entries")
}

func clientFor(cmd *cobra.Command) (*diagnosticsClient, error) {
	baseURL, err := serverURL(cmd)
	if err != nil {
		return nil, err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return newDiagnosticsClient(baseURL, timeout), nil
}

func runStats(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q (must be table or json)", format)
	}

	client, err := clientFor(cmd)
	if err != nil {
		return err
	}

	report, err := client.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if format == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}
	return printStatsTable(cmd.OutOrStdout(), report)
}

func runGC(cmd *cobra.Command, args []string) error {
	aggressive, _ := cmd.Flags().GetBool("aggressive")

	client, err := clientFor(cmd)
	if err != nil {
		return err
	}

	result, err := client.ForceGC(cmd.Context(), aggressive)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	mode := "Light"
	if result.Aggressive {
		mode = "Aggressive"
	}
	_, err = p.Fprintf(cmd.OutOrStdout(), "%s GC completed: %d entries reclaimed, gc_count %d\n",
		mode, result.Reclaimed, result.Stats.GCCount)
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printStatsTable renders the report as aligned sections
func printStatsTable(out io.Writer, report *entities.StatsReport) error {
	p := message.NewPrinter(language.English)
	title := cases.Title(language.English)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "MEMORY")
	limit := "unlimited"
	if report.Limits.MaxContextTokens > 0 {
		limit = p.Sprintf("%d", report.Limits.MaxContextTokens)
	}
	_, _ = p.Fprintf(w, "  Context tokens\t%d / %s\n", report.Memory.CurrentContextTokens, limit)
	if report.Memory.ContextLimitExceeded {
		_, _ = fmt.Fprintln(w, "  \tlimit exceeded")
	}
	_, _ = p.Fprintf(w, "  Heap\t%d MB (threshold %d MB, max %d MB)\n",
		report.Runtime.HeapAllocMB, report.Limits.ThresholdMemoryMB, report.Limits.MaxMemoryMB)
	_, _ = p.Fprintf(w, "  GC runs\t%d\n", report.Memory.GCCount)
	lastGC := "never"
	if report.Memory.LastGCTime != nil {
		lastGC = report.Memory.LastGCTime.Format(time.RFC3339)
	}
	_, _ = fmt.Fprintf(w, "  Last GC\t%s\n", lastGC)
	_, _ = fmt.Fprintf(w, "  Limits enabled\t%t\n", report.Limits.Enabled)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "CACHE\tSIZE\tHITS\tMISSES\tEVICTIONS\tHIT RATE")
	for _, c := range report.Caches {
		_, _ = p.Fprintf(w, "%s\t%d / %d\t%d\t%d\t%d\t%.1f%%\n",
			title.String(strings.ReplaceAll(c.Name, "_", " ")),
			c.Size, c.MaxSize, c.Hits, c.Misses, c.Evictions, c.HitRate*100)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "RUNTIME")
	_, _ = p.Fprintf(w, "  Goroutines\t%d\n", report.Runtime.Goroutines)
	_, _ = p.Fprintf(w, "  Heap objects\t%d\n", report.Runtime.HeapObjects)
	_, _ = p.Fprintf(w, "  System memory\t%d MB\n", report.Runtime.SysMB)
	_, _ = fmt.Fprintf(w, "  Uptime\t%s\n", report.Runtime.Uptime.Round(time.Second))

	return w.Flush()
}
