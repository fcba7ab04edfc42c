package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/health"
)

var probeCmd = &cobra.Command{
	Use:   "probe [name=url ...]",
	Short: "Probe the configured health endpoints once and print the result",
	Long: `Probe runs one health check against every endpoint in the config, or against
the name=url pairs given as arguments. It exits non-zero unless the overall status is
healthy.`,
	Run: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func parseEndpoints(args []string) (map[string]string, error) {
	eps := make(map[string]string, len(args))
	for _, arg := range args {
		name, url, ok := strings.Cut(arg, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("expected name=url, got %q", arg)
		}
		eps[name] = url
	}
	return eps, nil
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	endpoints := cfg.HealthCheck.Endpoints
	if len(args) > 0 {
		if endpoints, err = parseEndpoints(args); err != nil {
			slog.Error("Invalid endpoint", "error", err)
			os.Exit(1)
		}
	}

	monitor := health.NewMonitor(endpoints, health.Options{Timeout: cfg.HealthCheck.Timeout})
	defer func() {
		_ = monitor.Close()
	}()

	report := monitor.CheckHealth(context.Background())
	printReport(report)

	if report.Overall != domain.OverallHealthy {
		os.Exit(1)
	}
}

func printReport(report health.Report) {
	names := make([]string, 0, len(report.Endpoints))
	for name := range report.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ENDPOINT\tSTATE\tKIND\tLATENCY\tDETAIL")
	for _, name := range names {
		ep := report.Endpoints[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, ep.State, ep.Kind, ep.Latency, ep.Detail)
	}
	_ = w.Flush()
	fmt.Printf("\nOverall: %s\n", report.Overall)
}
