package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Export one documentation site",
		Long: `Discovers the pages under --url (or crawler.root_url), renders each one
to PDF and publishes the merged document. Flags override the config file and
SCRAPER_* environment variables.`,
		Example: `  docs2pdf scrape --url https://docs.example.com/guide/ --capacity 4
  docs2pdf scrape --config scraper.yaml --serve --addr :9090`,
		RunE: runScrapeCommand,
	}
	f := cmd.Flags()
	f.String("url", "", "root URL of the documentation site")
	f.Int("capacity", 1, "number of pooled browsers")
	f.Int("max-pages", 0, "stop discovery after this many pages (0 = unlimited)")
	f.String("output", "output", "output directory for the local provider")
	f.String("file-name", "docs.pdf", "name of the merged document")
	f.Bool("serve", false, "run the status server during the export")
	f.String("addr", ":8080", "status server listen address")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		if cerr := appInstance.Close(ctx); cerr != nil {
			appInstance.Logger().Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	// --url is bound to crawler.root_url when the config is loaded.
	runner, err := appInstance.NewRun("")
	if err != nil {
		return err
	}
	res, err := runner.Run(cmd.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("export interrupted: %w", err)
		}
		return fmt.Errorf("export failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:      %s\n", res.RunID)
	fmt.Fprintf(out, "pages:    %d rendered, %d failed, %d discovered\n", res.Rendered, res.Failed, res.Discovered)
	if res.DocumentURI != "" {
		fmt.Fprintf(out, "document: %s (%d bytes)\n", res.DocumentURI, res.Bytes)
		fmt.Fprintf(out, "sha256:   %s\n", res.Checksum)
	}
	for _, uri := range res.PageURIs {
		fmt.Fprintf(out, "page:     %s\n", uri)
	}
	fmt.Fprintf(out, "took:     %s\n", res.Duration.Round(time.Millisecond))
	return nil
}
