package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/replication"
	"github.com/tangramdotdev/tangram/internal/server"
)

func newObjectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "object", Short: "raw content-addressed object operations"}
	cmd.AddCommand(
		newObjectGetCmd(), newObjectPutCmd(), newObjectChildrenCmd(), newObjectMetadataCmd(),
		newObjectExportCmd(), newObjectImportCmd(), newObjectPushCmd(), newObjectPullCmd(),
	)
	return cmd
}

func newObjectGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "print an object's raw canonical bytes to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			objID, err := id.Parse(args[0])
			if err != nil {
				return usage("object get: %w", err)
			}
			data, _, err := srv.Store.Get(ctx, objID)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	return cmd
}

func newObjectPutCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "store raw canonical bytes from stdin under their content ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("object put: read stdin: %w", err)
			}
			k := id.Kind(kind)
			if !id.IsContentKind(k) {
				return usage("object put: %q is not a content kind", kind)
			}
			objID := id.NewContent(k, data)
			if err := srv.Store.Put(ctx, objID, data, time.Now()); err != nil {
				return err
			}
			fmt.Println(objID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "object kind: blb, dir, fil, sym, gph, cmd, err")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func newObjectChildrenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "children <id>",
		Short: "list an object's direct child edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			objID, err := id.Parse(args[0])
			if err != nil {
				return usage("object children: %w", err)
			}
			meta, err := srv.Store.Metadata(ctx, objID)
			if err != nil {
				return err
			}
			for _, childID := range meta.ChildEdges {
				fmt.Println(childID.String())
			}
			return nil
		},
	}
	return cmd
}

func newObjectMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata <id>",
		Short: "print an object's size and last-touched time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			objID, err := id.Parse(args[0])
			if err != nil {
				return usage("object metadata: %w", err)
			}
			meta, err := srv.Store.Metadata(ctx, objID)
			if err != nil {
				return err
			}
			fmt.Printf("size\t%d\n", meta.Size)
			fmt.Printf("touched_at\t%s\n", meta.TouchedAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Printf("children\t%d\n", len(meta.ChildEdges))
			return nil
		},
	}
	return cmd
}

func newObjectExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "stream an object's canonical wire bytes, verified for re-import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			objID, err := id.Parse(args[0])
			if err != nil {
				return usage("object export: %w", err)
			}
			data, err := srv.Store.Export(ctx, objID)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	return cmd
}

func newObjectImportCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "verify and store bytes from stdin previously produced by export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("object import: read stdin: %w", err)
			}
			objID, err := srv.Store.Import(ctx, id.Kind(kind), data)
			if err != nil {
				return err
			}
			fmt.Println(objID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "object kind: blb, dir, fil, sym, gph, cmd, err")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func newObjectPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <id> <remote>",
		Short: "push an object's closure to a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			return pushPullObjectClosure(ctx, srv, args[0], args[1], true)
		},
	}
	return cmd
}

func newObjectPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <id> <remote>",
		Short: "pull an object's closure from a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			return pushPullObjectClosure(ctx, srv, args[0], args[1], false)
		},
	}
	return cmd
}

// pushPullObjectClosure implements the object-level push/pull CLI
// surface directly against the Peer interface: unlike process push/pull
// (internal/replication.Push/Pull), an object closure has no process
// record to reconstruct, so the CLI drives the walk-diff-stream loop
// itself, sharing internal/replication.ObjectClosure for the local side
// of the walk.
func pushPullObjectClosure(ctx context.Context, srv *server.Server, rawID, remoteName string, push bool) error {
	objID, err := id.Parse(rawID)
	if err != nil {
		return usage("object push/pull: %w", err)
	}
	peer, err := resolvePeer(ctx, srv, remoteName)
	if err != nil {
		return err
	}

	if push {
		closure, err := replication.ObjectClosure(ctx, srv.Store, objID)
		if err != nil {
			return err
		}
		have, err := peer.HasObjects(ctx, closure)
		if err != nil {
			return err
		}
		for _, cid := range closure {
			if have[cid] {
				continue
			}
			data, _, err := srv.Store.Get(ctx, cid)
			if err != nil {
				return err
			}
			if err := peer.PutObject(ctx, cid, cid.Kind(), data); err != nil {
				return err
			}
		}
		return nil
	}

	seen := map[id.ID]bool{}
	queue := []id.ID{objID}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		data, err := peer.GetObject(ctx, next)
		if err != nil {
			return err
		}
		if err := srv.Store.Put(ctx, next, data, time.Now()); err != nil {
			return err
		}
		obj, err := object.Decode(next.Kind(), data)
		if err != nil {
			return fmt.Errorf("object pull: decode %s: %w", next, err)
		}
		for _, edge := range obj.ChildEdges() {
			if !seen[edge] {
				queue = append(queue, edge)
			}
		}
	}
	return nil
}
