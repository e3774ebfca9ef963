package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/sink"
)

func newFeedCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Enqueue and run feed generation tasks",
	}
	cmd.AddCommand(newFeedEnqueueCommand(opts), newFeedRunCommand(opts))
	return cmd
}

type enqueueOptions struct {
	store              string
	url                string
	format             string
	fields             string
	ignoredFields      string
	childFields        string
	separator          string
	excludeIDs         string
	includeChildPrices bool
	useMSI             bool
}

func (o *enqueueOptions) payload() (feed.Payload, error) {
	var excluded []int64
	for _, raw := range config.SplitList(o.excludeIDs) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return feed.Payload{}, fmt.Errorf("invalid --exclude-ids value %q: %w", raw, err)
		}
		excluded = append(excluded, id)
	}
	return feed.Payload{
		Format:             o.format,
		Fields:             config.SplitList(o.fields),
		IgnoredFields:      config.SplitList(o.ignoredFields),
		ChildFields:        config.SplitList(o.childFields),
		Separator:          o.separator,
		StoreCode:          o.store,
		ExcludedProductIDs: excluded,
		IncludeChildPrices: o.includeChildPrices,
		PresignedURL:       o.url,
		UseMSI:             o.useMSI,
	}, nil
}

func newFeedEnqueueCommand(opts *rootOptions) *cobra.Command {
	o := &enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Validate a feed request and store it as a pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := o.payload()
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				if store, ok := a.cfg.StoreByCode(payload.StoreCode); ok && !cmd.Flags().Changed("msi") {
					payload.UseMSI = store.UseMSI
				}
				task, err := a.executor.Enqueue(cmd.Context(), payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %d enqueued for store %s\n", task.ID, payload.StoreCode)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.store, "store", "", "store code to export")
	f.StringVar(&o.url, "url", "", "pre-signed upload URL")
	f.StringVar(&o.format, "format", sink.FormatJSON, "output format: json, gz or json.gz")
	f.StringVar(&o.fields, "fields", "", "comma-separated row fields (default: built-in field set)")
	f.StringVar(&o.ignoredFields, "ignored-fields", "", "comma-separated fields to drop")
	f.StringVar(&o.childFields, "child-fields", "", "comma-separated fields always read from the child")
	f.StringVar(&o.separator, "separator", "", "multiselect label separator (default: |)")
	f.StringVar(&o.excludeIDs, "exclude-ids", "", "comma-separated product ids to leave out")
	f.BoolVar(&o.includeChildPrices, "child-prices", false, "add child_final_price and child_regular_price")
	f.BoolVar(&o.useMSI, "msi", false, "prefer multi-source inventory (default: the store's setting)")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newFeedRunCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "run [task-id...]",
		Short: "Run the given tasks, or every pending task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}

			out := cmd.OutOrStdout()
			return withApp(opts, func(a *app) error {
				return timed(out, func() error {
					var results []feed.TaskResult
					if len(ids) > 0 {
						for _, id := range ids {
							res, _ := a.executor.ExecuteByID(cmd.Context(), id)
							printTask(out, res)
							results = append(results, res)
						}
					} else {
						var err error
						results, err = a.executor.RunPending(cmd.Context(), limit, func(res feed.TaskResult) {
							printTask(out, res)
						})
						if err != nil {
							return err
						}
					}
					return taskFailures(results)
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum pending tasks to run")
	return cmd
}

func printTask(out io.Writer, res feed.TaskResult) {
	if res.Err != nil {
		fmt.Fprintf(out, "task %d %s: %v\n", res.TaskID, statusOrUnknown(string(res.Status)), res.Err)
		return
	}
	fmt.Fprintf(out, "task %d %s rows=%d bytes=%d duration=%s\n",
		res.TaskID, res.Status, res.Result.Rows, res.Result.Bytes, res.Ended.Sub(res.Started).Round(time.Millisecond))
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func taskFailures(results []feed.TaskResult) error {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}
