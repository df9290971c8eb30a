package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/id"
)

// newRootRegistryCmd implements the `root` CLI group (spec §6 "root:
// put/get/list/delete"): named GC-root anchors, distinct from this
// binary's own cobra root command.
func newRootRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "root", Short: "named GC roots pinning reachability"}
	cmd.AddCommand(newRootPutCmd(), newRootGetCmd(), newRootListCmd(), newRootDeleteCmd())
	return cmd
}

func newRootPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <name> <item-id>",
		Short: "pin an object as a GC root under name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			itemID, err := id.Parse(args[1])
			if err != nil {
				return usage("root put: %w", err)
			}
			return srv.Index.PutRoot(ctx, args[0], itemID)
		},
	}
	return cmd
}

func newRootGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "resolve a root to its item ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			itemID, err := srv.Index.GetRoot(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(itemID.String())
			return nil
		},
	}
	return cmd
}

func newRootListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list every registered GC root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			roots, err := srv.Index.ListRoots(ctx)
			if err != nil {
				return err
			}
			for _, r := range roots {
				fmt.Printf("%s\t%s\n", r.Name, r.Item.String())
			}
			return nil
		},
	}
	return cmd
}

func newRootDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "unpin a GC root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Index.DeleteRoot(ctx, args[0])
		},
	}
	return cmd
}
