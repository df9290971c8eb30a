//go:build linux

package native

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/tangramdotdev/tangram/internal/object"
)

// LinuxSandbox applies unshare-style isolation (spec §4.8: "Linux
// implementation uses unshare-style isolation with overlay mounts and
// bind mounts"): new mount, PID, UTS, and IPC namespaces always, plus a
// new network namespace unless network is true, and a bind mount per
// command.Mounts entry.
func LinuxSandbox(network bool) SandboxFunc {
	return func(cmd *exec.Cmd, mounts []object.Mount, workDir string) error {
		flags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
		if !network {
			flags |= syscall.CLONE_NEWNET
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Cloneflags: flags,
		}
		for _, m := range mounts {
			if err := bindMount(m); err != nil {
				return fmt.Errorf("native: bind mount %s -> %s: %w", m.Source, m.Target, err)
			}
		}
		return nil
	}
}

// DefaultSandbox returns this platform's real sandbox backend, for
// callers (internal/server) that pick a SandboxFunc by config.Runtime.Sandbox
// without importing a platform-specific symbol directly.
func DefaultSandbox(network bool) SandboxFunc { return LinuxSandbox(network) }

func bindMount(m object.Mount) error {
	flags := uintptr(syscall.MS_BIND)
	if err := syscall.Mount(m.Source, m.Target, "", flags, ""); err != nil {
		return err
	}
	if m.Readonly {
		remount := uintptr(syscall.MS_BIND | syscall.MS_REMOUNT | syscall.MS_RDONLY)
		if err := syscall.Mount(m.Source, m.Target, "", remount, ""); err != nil {
			return err
		}
	}
	return nil
}
