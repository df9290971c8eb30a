package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mholt/archives"
	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/checkin"
	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
)

func newArtifactCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "artifact", Short: "filesystem <-> object graph conversion"}
	cmd.AddCommand(newArtifactCheckinCmd(), newArtifactCheckoutCmd(), newArtifactBundleCmd(), newArtifactChecksumCmd())
	return cmd
}

func newArtifactCheckinCmd() *cobra.Command {
	var ignoreFile string
	cmd := &cobra.Command{
		Use:   "checkin <path>",
		Short: "check a filesystem path into the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			cfg := checkin.Config{
				Ignore: checkin.NewIgnore(args[0], checkin.IgnoreConfig{FileName: ignoreFile}),
			}
			art, err := checkin.Checkin(ctx, srv.Store, args[0], cfg)
			if err != nil {
				return err
			}
			if art.Graph != nil {
				fmt.Printf("%s#%d\n", art.Graph.Graph, art.Graph.Node)
				return nil
			}
			fmt.Println(art.Artifact.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&ignoreFile, "ignore-file", checkin.DefaultIgnoreFile, "per-directory ignore file name")
	return cmd
}

func newArtifactCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout <artifact-id> <dest>",
		Short: "materialize an artifact onto the filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			artID, err := id.Parse(args[0])
			if err != nil {
				return usage("artifact checkout: %w", err)
			}
			art := checkin.Artifact{Artifact: artID}
			if err := checkin.Checkout(ctx, srv.Store, art, args[1]); err != nil {
				return err
			}
			fmt.Println(args[1])
			return nil
		},
	}
	return cmd
}

// newArtifactBundleCmd packages a checked-out directory as a single
// tar/zip-family archive (spec §6 `artifact: ... archive/extract/bundle`),
// the one CLI surface that exercises github.com/mholt/archives.
func newArtifactBundleCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "bundle <src-dir> <dest-archive>",
		Short: "bundle a directory into a tar/zip archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arc, err := archiveFormat(format)
			if err != nil {
				return usage("artifact bundle: %w", err)
			}

			files, err := archives.FilesFromDisk(ctx, nil, map[string]string{args[0]: ""})
			if err != nil {
				return fmt.Errorf("artifact bundle: collect files: %w", err)
			}

			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("artifact bundle: create %s: %w", args[1], err)
			}
			defer out.Close()

			if err := arc.Archive(ctx, out, files); err != nil {
				return fmt.Errorf("artifact bundle: archive: %w", err)
			}
			fmt.Println(args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "tar.gz", "archive format: tar, tar.gz, or zip")
	return cmd
}

func archiveFormat(format string) (archives.CompressedArchive, error) {
	switch strings.ToLower(format) {
	case "tar":
		return archives.CompressedArchive{Archival: archives.Tar{}}, nil
	case "tar.gz", "tgz":
		return archives.CompressedArchive{Compression: archives.Gz{}, Archival: archives.Tar{}}, nil
	case "zip":
		return archives.CompressedArchive{Archival: archives.Zip{}}, nil
	default:
		return archives.CompressedArchive{}, fmt.Errorf("unknown archive format %q", format)
	}
}

func newArtifactChecksumCmd() *cobra.Command {
	var algo string
	cmd := &cobra.Command{
		Use:   "checksum <path>",
		Short: "compute a checksum of a file's raw bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("artifact checksum: %w", err)
			}
			defer f.Close()

			val, err := checksum.Of(checksum.Algorithm(algo), io.Reader(f))
			if err != nil {
				return usage("artifact checksum: %w", err)
			}
			fmt.Println(val.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&algo, "algorithm", string(checksum.Blake3), "checksum algorithm: none, blake3, sha256, sha512")
	return cmd
}
