package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilio/internal/infra/storage/postgres"
)

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Show error reports stored in PostgreSQL",
	Run:   runReports,
}

func init() {
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "number of recent reports to show")
	rootCmd.AddCommand(reportsCmd)
}

func runReports(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("database.url is not configured")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	repo := postgres.NewReportRepo(db)

	counts, err := repo.CountByKind(ctx)
	if err != nil {
		slog.Error("Failed to count reports", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "KIND\tCOUNT")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c.Kind, c.Count)
	}
	_ = w.Flush()
	fmt.Println()

	reports, err := repo.Recent(ctx, reportsLimit)
	if err != nil {
		slog.Error("Failed to query reports", "error", err)
		os.Exit(1)
	}

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tKIND\tSEVERITY\tINSTANCE\tMESSAGE")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Record.Timestamp.Format(time.RFC3339),
			r.Record.Kind,
			r.Record.Severity,
			r.Record.OriginInstanceID,
			r.Record.Message,
		)
	}
	_ = w.Flush()
}
