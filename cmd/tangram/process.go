package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/process"
)

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "process", Short: "spawn, supervise, and inspect processes"}
	cmd.AddCommand(
		newProcessSpawnCmd(), newProcessGetCmd(), newProcessWaitCmd(), newProcessCancelCmd(),
		newProcessChildrenCmd(), newProcessLogCmd(), newProcessOutputCmd(), newProcessStatusCmd(),
		newProcessHeartbeatCmd(),
	)
	return cmd
}

func newProcessSpawnCmd() *cobra.Command {
	var parent string
	var remote string
	var create bool
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "spawn <command-id>",
		Short: "spawn a process for a command, or attach to a cached/in-flight one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()

			cmdID, err := id.Parse(args[0])
			if err != nil {
				return usage("process spawn: %w", err)
			}
			opts := process.SpawnOptions{
				Remote: remote,
				Create: create,
				Retry:  process.RetryPolicy{MaxAttempts: maxAttempts},
			}
			if parent != "" {
				parentID, err := id.Parse(parent)
				if err != nil {
					return usage("process spawn: --parent: %w", err)
				}
				opts.Parent = &parentID
			}
			procID, token, err := srv.Scheduler.Spawn(ctx, cmdID, opts)
			if err != nil {
				return err
			}
			fmt.Println(procID.String())
			if token != "" {
				fmt.Println(token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent process ID")
	cmd.Flags().StringVar(&remote, "remote", "", "remote name to spawn against (spec §4.7)")
	cmd.Flags().BoolVar(&create, "create", false, "force a fresh process, bypassing cache coalescing")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry policy max attempts (passed to spawn; no process is retried automatically)")
	return cmd
}

func newProcessGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <process-id>",
		Short: "print a process record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process get: %w", err)
			}
			row, err := srv.Scheduler.Get(ctx, procID)
			if err != nil {
				return err
			}
			fmt.Printf("id\t%s\n", row.ID)
			fmt.Printf("command\t%s\n", row.CommandID)
			if row.ParentID != nil {
				fmt.Printf("parent\t%s\n", row.ParentID)
			}
			fmt.Printf("status\t%s\n", row.Status)
			fmt.Printf("cached\t%t\n", row.Cached)
			if row.Output != nil {
				fmt.Printf("output\t%s\n", row.Output)
			}
			if row.Error != nil {
				fmt.Printf("error\t%s\n", row.Error)
			}
			if row.ExitCode != nil {
				fmt.Printf("exit\t%d\n", *row.ExitCode)
			}
			if row.CancelReason != nil {
				fmt.Printf("cancel_reason\t%s\n", *row.CancelReason)
			}
			return nil
		},
	}
	return cmd
}

func newProcessWaitCmd() *cobra.Command {
	var pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "wait <process-id>",
		Short: "block until a process reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process wait: %w", err)
			}
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			for {
				row, err := srv.Scheduler.Get(ctx, procID)
				if err != nil {
					return err
				}
				if row.Terminal() {
					fmt.Println(row.Status)
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 200*time.Millisecond, "status poll interval")
	return cmd
}

func newProcessCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <process-id> <token>",
		Short: "cancel a process using its mutation token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process cancel: %w", err)
			}
			return srv.Scheduler.Cancel(ctx, procID, args[1], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "human-readable cancellation reason")
	return cmd
}

func newProcessChildrenCmd() *cobra.Command {
	var position, length int
	cmd := &cobra.Command{
		Use:   "children <process-id>",
		Short: "list a process's child processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process children: %w", err)
			}
			children, err := srv.Scheduler.GetChildren(ctx, procID, position, length)
			if err != nil {
				return err
			}
			for _, c := range children {
				fmt.Println(c.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "pagination start index")
	cmd.Flags().IntVar(&length, "length", 0, "pagination length (0 = all)")
	return cmd
}

func newProcessLogCmd() *cobra.Command {
	var position, length int
	var follow bool
	cmd := &cobra.Command{
		Use:   "log <process-id>",
		Short: "stream a process's log output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if follow {
				var cancel context.CancelFunc
				ctx, cancel = signalContext()
				defer cancel()
			}
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process log: %w", err)
			}
			data, err := srv.Scheduler.GetLog(ctx, procID, position, length, follow)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "byte offset to read from")
	cmd.Flags().IntVar(&length, "length", 0, "max bytes to read (0 = all currently available)")
	cmd.Flags().BoolVar(&follow, "follow", false, "block for new output past the end of the stream")
	return cmd
}

func newProcessOutputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "output <process-id>",
		Short: "print a finished process's output object ID, or its error object ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process output: %w", err)
			}
			row, err := srv.Scheduler.Get(ctx, procID)
			if err != nil {
				return err
			}
			switch {
			case row.Output != nil:
				fmt.Println(row.Output.String())
			case row.Error != nil:
				fmt.Printf("error\t%s\n", row.Error.String())
			case row.ExitCode != nil:
				fmt.Printf("exit\t%d\n", *row.ExitCode)
			default:
				return usage("process output: %s has no terminal output yet", procID)
			}
			return nil
		},
	}
	return cmd
}

func newProcessStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <process-id>",
		Short: "print a process's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process status: %w", err)
			}
			row, err := srv.Scheduler.Get(ctx, procID)
			if err != nil {
				return err
			}
			fmt.Println(row.Status)
			return nil
		},
	}
	return cmd
}

func newProcessHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat <process-id> <token>",
		Short: "send a liveness heartbeat for a started process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, err := openServer(ctx, false)
			if err != nil {
				return err
			}
			defer srv.Close()
			procID, err := id.Parse(args[0])
			if err != nil {
				return usage("process heartbeat: %w", err)
			}
			stop, err := srv.Scheduler.Heartbeat(ctx, procID, args[1])
			if err != nil {
				return err
			}
			if stop {
				fmt.Println("canceled")
			} else {
				fmt.Println("ok")
			}
			return nil
		},
	}
	return cmd
}
