package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/catalogfeed/internal/ledger"
	"github.com/dshills/catalogfeed/internal/syncer"
	"github.com/dshills/catalogfeed/pkg/types"
)

func newEntitiesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Discover catalog entities and sync ledger changes",
	}
	cmd.AddCommand(newEntitiesSyncCommand(opts), newEntitiesDiscoverCommand(opts), newEntitiesMarkCommand(opts))
	return cmd
}

func newEntitiesSyncCommand(opts *rootOptions) *cobra.Command {
	filter := &storeFilter{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send pending ledger rows to the live-sync API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withApp(opts, func(a *app) error {
				stores, err := a.stores(filter)
				if err != nil {
					return err
				}
				return timed(out, func() error {
					stats, err := a.syncer.Sync(cmd.Context(), stores, func(r syncer.EntityResult) {
						result := "ok"
						if !r.OK {
							result = "failed"
						}
						fmt.Fprintf(out, "%s %s %d %s %s\n", r.Store, r.EntityType, r.TargetID, r.Action, result)
					})
					failed := 0
					for _, st := range stats {
						fmt.Fprintf(out, "store %s: claimed=%d dispatched=%d failed=%d conflicts=%d\n",
							st.Store, st.Claimed, st.Dispatched, st.Failed, st.Conflicts)
						failed += st.Failed + len(st.ErrorMessages)
					}
					if err != nil {
						return err
					}
					if failed > 0 {
						return fmt.Errorf("%d entity sync failures", failed)
					}
					return nil
				})
			})
		},
	}
	filter.register(cmd)
	return cmd
}

func newEntitiesDiscoverCommand(opts *rootOptions) *cobra.Command {
	filter := &storeFilter{}
	var batchSize int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Ensure a ledger row exists for every catalog product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withApp(opts, func(a *app) error {
				stores, err := a.stores(filter)
				if err != nil {
					return err
				}
				if batchSize <= 0 {
					batchSize = a.cfg.BatchSize
				}
				return timed(out, func() error {
					failed := 0
					for _, store := range stores {
						res, err := a.observer.Discover(cmd.Context(), store, batchSize)
						if err != nil {
							return fmt.Errorf("store %s: %w", store.Code, err)
						}
						fmt.Fprintf(out, "store %s site %s: scanned=%d inserted=%d failed=%d\n",
							res.Store, res.SiteID, res.Scanned, res.Inserted, res.Failed)
						failed += res.Failed
					}
					if failed > 0 {
						return fmt.Errorf("%d products could not be added to the ledger", failed)
					}
					return nil
				})
			})
		},
	}
	filter.register(cmd)
	cmd.Flags().IntVar(&batchSize, "batch", 0, "products per page (default: CATALOGFEED_BATCH_SIZE)")
	return cmd
}

func newEntitiesMarkCommand(opts *rootOptions) *cobra.Command {
	var (
		event string
		ids   []int64
	)
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Queue ledger work for a catalog change event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withApp(opts, func(a *app) error {
				if err := a.observer.Handle(cmd.Context(), event, ids...); err != nil {
					return err
				}
				fmt.Fprintf(out, "event %s recorded for %d products\n", event, len(ids))
				for _, store := range a.cfg.Stores {
					if ledger.SyncEnabled(store) != nil {
						continue
					}
					counts, err := a.store.CountByAction(cmd.Context(), store.SiteID)
					if err != nil {
						return fmt.Errorf("store %s: %w", store.Code, err)
					}
					fmt.Fprintf(out, "store %s site %s: upsert=%d delete=%d\n",
						store.Code, store.SiteID, counts[types.ActionUpsert], counts[types.ActionDelete])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "one of "+strings.Join(ledger.Events, ", "))
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "comma-separated product ids")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}
