package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilio/internal/control"
	"github.com/vietddude/resilio/internal/infra/rpc"
)

var (
	fetchMethod  string
	fetchData    string
	fetchType    string
	fetchHeaders []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Execute one request through the retrying executor",
	Long: `Fetch sends a request with the configured retry policy and timeouts. On failure
it prints the error classification instead of the response body.`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "method", "X", http.MethodGet, "HTTP method")
	fetchCmd.Flags().StringVarP(&fetchData, "data", "d", "", "request body")
	fetchCmd.Flags().StringVar(&fetchType, "type", "default", "request type: default, upload, download")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "header as 'Name: value'")
	rootCmd.AddCommand(fetchCmd)
}

func buildRequest(url string) (rpc.Request, error) {
	req := rpc.Request{
		URL:    url,
		Method: strings.ToUpper(fetchMethod),
		Header: http.Header{},
		Type:   rpc.RequestType(fetchType),
	}
	switch req.Type {
	case rpc.TypeDefault, rpc.TypeUpload, rpc.TypeDownload:
	default:
		return req, fmt.Errorf("unknown request type %q", fetchType)
	}
	if fetchData != "" {
		req.Body = []byte(fetchData)
	}
	for _, h := range fetchHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return req, fmt.Errorf("invalid header %q", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func runFetch(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	req, err := buildRequest(args[0])
	if err != nil {
		slog.Error("Invalid request", "error", err)
		os.Exit(1)
	}

	// One-shot: no peers, no health server, errors go to the log.
	cfg.Propagation.Enabled = false
	cfg.Reporting.Sink = "log"
	cfg.HealthCheck.Endpoints = nil

	app, err := control.New(cfg, control.WithoutHealthServer())
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	defer func() {
		_ = app.Stop(ctx)
	}()

	resp, err := app.Execute(ctx, req)
	if err != nil {
		var reqErr *rpc.RequestError
		if errors.As(err, &reqErr) {
			fmt.Printf("kind:      %s\n", reqErr.Kind)
			fmt.Printf("severity:  %s\n", reqErr.Severity)
			fmt.Printf("retryable: %v\n", reqErr.Retryable)
			fmt.Printf("attempts:  %d\n", reqErr.Attempts)
			fmt.Printf("message:   %s\n", reqErr.Message)
		} else {
			fmt.Printf("error: %v\n", err)
		}
		_ = app.Stop(ctx)
		os.Exit(1)
	}

	fmt.Printf("status: %d\n\n", resp.Status)
	_, _ = os.Stdout.Write(resp.Body)
}
