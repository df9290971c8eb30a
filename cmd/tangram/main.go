// Command tangram is a thin cobra front-end over the core engine in
// internal/*: every subcommand opens (or attaches to) a server.Server and
// calls straight through to the package that owns the operation, the way
// the teacher's cmd/ package calls straight into internal/agent and
// internal/controller rather than reimplementing logic at the CLI layer.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
