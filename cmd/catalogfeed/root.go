package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/catalogfeed/internal/storage"
)

// timestampLayout is used for started/ended lines
const timestampLayout = "2006-01-02 15:04:05"

type rootOptions struct {
	envFile string
	debug   bool
}

// storeFilter holds the comma-separated --stores/--sites flags
type storeFilter struct {
	codes string
	sites string
}

func (f *storeFilter) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.codes, "stores", "", "comma-separated store codes (default: all)")
	cmd.Flags().StringVar(&f.sites, "sites", "", "comma-separated site ids (default: all)")
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "catalogfeed",
		Short:         "Catalog feed export and live sync",
		Long:          `Exports store catalogs as feed files to pre-signed URLs and keeps a change ledger in sync with the live-sync API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "path to a .env file (optional)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging and keep temp files when retention is on")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "catalogfeed %s\n", version)
				fmt.Fprintf(out, "Build Time: %s\n", buildTime)
				fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
				fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			},
		},
		newFeedCommand(opts),
		newEntitiesCommand(opts),
		newServeCommand(opts),
		newMCPCommand(opts),
	)
	return cmd
}

// withApp wires the application for one command run and closes it afterwards
func withApp(opts *rootOptions, fn func(a *app) error) (err error) {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// timed prints started/ended lines around fn
func timed(out io.Writer, fn func() error) error {
	fmt.Fprintf(out, "Started at %s\n", time.Now().Format(timestampLayout))
	err := fn()
	fmt.Fprintf(out, "Ended at %s\n", time.Now().Format(timestampLayout))
	return err
}
