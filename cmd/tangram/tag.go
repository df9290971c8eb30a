package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/id"
)

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tag", Short: "mutable names over object/process IDs"}
	cmd.AddCommand(newTagPutCmd(), newTagGetCmd(), newTagListCmd(), newTagDeleteCmd())
	return cmd
}

func newTagPutCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "put <name[/version]> <item-id>",
		Short: "point a tag at an object or process ID",
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
				return usage("tag put: %w", err)
			}
			return srv.Index.PutTag(ctx, args[0], itemID, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a conflicting existing tag")
	return cmd
}

func newTagGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name[/version]>",
		Short: "resolve a tag to its item ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			tag, err := srv.Index.GetTag(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(tag.Item.String())
			return nil
		},
	}
	return cmd
}

func newTagListCmd() *cobra.Command {
	var recursive, reverse bool
	var length int
	cmd := &cobra.Command{
		Use:   "list <pattern>",
		Short: "list tags matching a glob pattern over \"name/version\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			tags, err := srv.Index.ListTags(ctx, args[0], recursive, reverse, length)
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Printf("%s\t%s\n", t.String(), t.Item.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "match a \"prefix/*\" pattern against any deeper segment count")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "descending version order")
	cmd.Flags().IntVar(&length, "length", 0, "truncate to this many results (0 = all); with --reverse, 1 is \"latest\"")
	return cmd
}

func newTagDeleteCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "delete <pattern>",
		Short: "delete tags matching a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Index.DeleteTag(ctx, args[0], recursive)
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "also delete tags matched only via \"prefix/*\"")
	return cmd
}
