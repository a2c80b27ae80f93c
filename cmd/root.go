// Package cmd defines the scraper CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/app"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/config"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/scraper"
)

type appKeyType string

const appKey appKeyType = "app"

// Runner executes one export.
type Runner interface {
	Run(ctx context.Context) (scraper.Result, error)
}

// App is the slice of *app.App the commands use, so tests can inject a fake.
type App interface {
	Logger() *zap.Logger
	NewRun(rootURL string) (Runner, error)
	Close(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) NewRun(rootURL string) (Runner, error) {
	s, err := a.Scraper(rootURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newApp is a variable so tests can replace the factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "docs2pdf",
		Short: "Exports a documentation site to a single PDF.",
		Long: `docs2pdf crawls a documentation site from a root URL, prints every page
to PDF in a bounded pool of headless Chrome browsers, merges the pages in
navigation order and publishes the document to local disk or GCS.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./scraper.yaml)")
	cmd.AddCommand(newScrapeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or the process is
// signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
