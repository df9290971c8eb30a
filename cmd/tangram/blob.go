package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
)

func newBlobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "blob", Short: "chunked content-defined byte sequences"}
	cmd.AddCommand(newBlobCreateCmd(), newBlobReadCmd(), newBlobChecksumCmd())
	return cmd
}

func newBlobCreateCmd() *cobra.Command {
	var fanout int
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "chunk a file and store it as a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("blob create: %w", err)
			}
			defer f.Close()

			blobID, err := blob.Create(ctx, srv.Store, f, fanout)
			if err != nil {
				return err
			}
			fmt.Println(blobID.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&fanout, "fanout", 0, "branch fanout (0 uses the default)")
	return cmd
}

func newBlobReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <blob-id>",
		Short: "stream a blob's contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			blobID, err := id.Parse(args[0])
			if err != nil {
				return usage("blob read: %w", err)
			}
			r, err := blob.NewReader(ctx, srv.Store, blobID)
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
	return cmd
}

func newBlobChecksumCmd() *cobra.Command {
	var algo string
	cmd := &cobra.Command{
		Use:   "checksum <blob-id>",
		Short: "compute a checksum over a stored blob's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			blobID, err := id.Parse(args[0])
			if err != nil {
				return usage("blob checksum: %w", err)
			}
			r, err := blob.NewReader(ctx, srv.Store, blobID)
			if err != nil {
				return err
			}
			val, err := checksum.Of(checksum.Algorithm(algo), r)
			if err != nil {
				return usage("blob checksum: %w", err)
			}
			fmt.Println(val.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&algo, "algorithm", string(checksum.Blake3), "checksum algorithm")
	return cmd
}
