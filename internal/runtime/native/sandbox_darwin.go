//go:build darwin

package native

import (
	"fmt"
	"strings"

	"os/exec"

	"github.com/tangramdotdev/tangram/internal/object"
)

// DefaultSandbox returns this platform's real sandbox backend, for
// callers (internal/server) that pick a SandboxFunc by config.Runtime.Sandbox
// without importing a platform-specific symbol directly.
func DefaultSandbox(network bool) SandboxFunc { return DarwinSandbox(network) }

// DarwinSandbox wraps the command under /usr/bin/sandbox-exec with a
// generated profile (spec §4.8: "macOS uses an equivalent sandbox
// profile"): deny-by-default, read access everywhere, write access
// scoped to the work directory and the command's non-readonly mounts,
// and network access only when requested.
func DarwinSandbox(network bool) SandboxFunc {
	return func(cmd *exec.Cmd, mounts []object.Mount, workDir string) error {
		profile := buildProfile(mounts, workDir, network)
		origPath := cmd.Path
		origArgs := cmd.Args
		cmd.Path = "/usr/bin/sandbox-exec"
		cmd.Args = append([]string{"sandbox-exec", "-p", profile, origPath}, origArgs[1:]...)
		return nil
	}
}

func buildProfile(mounts []object.Mount, workDir string, network bool) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(allow process-exec)\n(allow process-fork)\n(allow file-read*)\n")
	fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", workDir)
	for _, m := range mounts {
		if !m.Readonly {
			fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", m.Target)
		}
	}
	if network {
		b.WriteString("(allow network*)\n")
	}
	return b.String()
}
