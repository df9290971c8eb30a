package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/logger"
	"github.com/tangramdotdev/tangram/internal/server"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

var (
	cfgFile string
	quiet   bool
	debug   bool
	verbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tangram",
		Short:         "content-addressed build and artifact engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/TOML)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug-level logging")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print a chained error trace on failure")

	root.AddCommand(
		newArtifactCmd(),
		newBlobCmd(),
		newObjectCmd(),
		newProcessCmd(),
		newTagCmd(),
		newRootRegistryCmd(),
		newRemoteCmd(),
		newWatchCmd(),
		newServerCmd(),
	)
	return root
}

// loadConfig reads the --config file (if any), layered with TANGRAM_ env
// vars, following internal/config.Load's own YAML/TOML + environment
// precedence.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// openServer builds the full resource bundle for a one-shot CLI
// operation. startGC is false for every command here except `server
// start`, which runs the background sweep for as long as the process
// stays up (spec §9's "explicit init ... starts background tasks").
func openServer(ctx context.Context, startGC bool) (*server.Server, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := server.Options{
		LogOptions: logger.Options{Quiet: quiet, Debug: debug},
		StartGC:    startGC,
	}
	return server.Init(ctx, cfg, opts)
}

// signalContext returns a context canceled on SIGINT/SIGTERM, for
// long-running commands (`server start`, `watch`) that must exit 130 on
// SIGINT per spec §7.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitCodeFor maps a command's returned error to the exit codes spec §7
// names: 0 success, 1 general failure, 2 invalid usage, 130 on SIGINT.
func exitCodeFor(err error) int {
	renderErr(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, tgerr.Sentinel(tgerr.Canceled)) {
		return 130
	}
	if tgerr.KindOf(err) == tgerr.InvalidArgument {
		return 2
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

// usageError marks an argument or flag value a command rejected (via
// usage) as invalid usage (exit 2) rather than a general failure (exit 1).
// Cobra's own argument-count errors are not wrapped and exit 1.
type usageError struct{ error }

func (u *usageError) Unwrap() error { return u.error }

func usage(format string, args ...any) error {
	return &usageError{fmt.Errorf(format, args...)}
}

// renderErr implements spec §7's CLI rendering: a single-line summary,
// and with --verbose a chained cause trace including any tgerr source
// location.
func renderErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "tangram: error: %s\n", err.Error())
	if !verbose {
		return
	}
	depth := 0
	for cur := err; cur != nil; {
		var te *tgerr.Error
		if errors.As(cur, &te) {
			loc := ""
			if te.Location != nil {
				loc = fmt.Sprintf(" (%s at %s:%d:%d)", te.Location.Symbol, te.Location.File, te.Location.Line, te.Location.Column)
			}
			fmt.Fprintf(os.Stderr, "  [%d] %s: %s%s\n", depth, te.Kind, te.Message, loc)
			cur = te.Source
		} else {
			fmt.Fprintf(os.Stderr, "  [%d] %s\n", depth, cur.Error())
			cur = errors.Unwrap(cur)
		}
		depth++
	}
}
