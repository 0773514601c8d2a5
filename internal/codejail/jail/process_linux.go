//go:build linux

package jail

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"capajail/internal/codejail/limits"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const killSignal = syscall.SIGKILL

var rlimitKinds = []struct {
	kind     limits.Kind
	resource int
}{
	{limits.CPU, unix.RLIMIT_CPU},
	{limits.VMem, unix.RLIMIT_AS},
	{limits.FSize, unix.RLIMIT_FSIZE},
	{limits.NProc, unix.RLIMIT_NPROC},
}

func sysProcAttr(username string) (*syscall.SysProcAttr, error) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if username == "" {
		return attr, nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("gid %q: %w", u.Gid, err)
	}
	if uint32(uid) != uint32(os.Geteuid()) {
		attr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	}
	return attr, nil
}

// applyLimits sets rlimits on a started child. Zero values leave a resource unlimited.
func applyLimits(ctx context.Context, pid int, m limits.Map) error {
	for _, rl := range rlimitKinds {
		v, ok := m.Get(rl.kind)
		if !ok || v <= 0 {
			continue
		}
		lim := unix.Rlimit{Cur: uint64(v), Max: uint64(v)}
		if rl.kind == limits.CPU {
			// SIGXCPU at the soft limit, SIGKILL a second later.
			lim.Max = uint64(v) + 1
		}
		if err := unix.Prlimit(pid, rl.resource, &lim, nil); err != nil {
			return fmt.Errorf("prlimit %s=%d: %w", rl.kind, v, err)
		}
	}
	if v, _ := m.Get(limits.Proxy); v > 0 {
		logger.Warn(ctx, "proxy limit is not supported by the local jail", zap.Int64("proxy", v))
	}
	return nil
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// exitStatus reports the exit code, or minus the signal number for a killed process.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}
