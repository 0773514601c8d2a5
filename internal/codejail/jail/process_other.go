//go:build !linux

package jail

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"capajail/internal/codejail/limits"
	"capajail/pkg/utils/logger"
)

const killSignal = 9

func sysProcAttr(username string) (*syscall.SysProcAttr, error) {
	if username != "" {
		return nil, fmt.Errorf("running as a sandbox user is only supported on linux")
	}
	return nil, nil
}

func applyLimits(ctx context.Context, _ int, m limits.Map) error {
	if len(m) > 0 {
		logger.Warn(ctx, "resource limits are only enforced on linux")
	}
	return nil
}

func killProcessGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
