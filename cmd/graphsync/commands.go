package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2lar/graphsync/internal/di"
	"github.com/2lar/graphsync/internal/fixtures/people"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				if err := c.Gateway.Ping(ctx); err != nil {
					return err
				}
				backend := c.Gateway.BackendName()
				return render(cmd, map[string]string{"status": "ok", "backend": backend},
					"%s backend is reachable\n", backend)
			})
		},
	}
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <label> <key>",
		Short: "Find the node holding a business key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, key := args[0], args[1]
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				id, found, err := c.Service.FindByKey(ctx, label, key)
				if err != nil {
					return err
				}
				if !found {
					return render(cmd, map[string]any{"label": label, "key": key, "found": false},
						"no %s node with key %q\n", label, key)
				}
				return render(cmd, map[string]any{"label": label, "key": key, "found": true, "id": id.String()},
					"%s#%s -> %s\n", label, key, id)
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every node and edge from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to clear the store without --yes")
			}
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				if err := c.Service.ClearAll(ctx); err != nil {
					return err
				}
				backend := c.Gateway.BackendName()
				return render(cmd, map[string]string{"status": "cleared", "backend": backend},
					"cleared %s store\n", backend)
			})
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm clearing the store")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace the store contents with the sample population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				pop := people.NewPopulation()
				h, ids, err := c.Service.Repopulate(ctx, pop.Roots()...)
				if err != nil {
					return err
				}
				roots := make([]string, len(ids))
				for i, id := range ids {
					roots[i] = id.String()
				}
				return render(cmd, map[string]any{
					"callId": h.CallID(),
					"nodes":  h.NodeCount(),
					"edges":  h.EdgeCount(),
					"roots":  roots,
				}, "stored %d nodes and %d edges (call %s)\n", h.NodeCount(), h.EdgeCount(), h.CallID())
			})
		},
	}
}
