// Package jail runs Python code in a throwaway directory under OS resource limits.
package jail

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/spec"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
)

// harnessName is the file the interpreter runs; it shows up in tracebacks.
const harnessName = "jailed_code"

//go:embed harness.py
var harnessSource []byte

// Jail is the local executor.
type Jail struct {
	cfg  Config
	argv []string
}

// NewJail validates cfg and builds a jail.
func NewJail(cfg Config) (*Jail, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, appErr.Wrapf(err, appErr.JailMisconfigured, "%v", err)
	}
	argv, err := parsePythonBin(cfg.PythonBin)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JailMisconfigured, "%v", err)
	}
	return &Jail{cfg: cfg, argv: argv}, nil
}

type harnessInput struct {
	Code       string         `json:"code"`
	Globals    map[string]any `json:"globals"`
	PythonPath []string       `json:"python_path"`
}

// Exec runs req.Code with globals and merges the JSON-safe result back into globals.
func (j *Jail) Exec(ctx context.Context, req spec.Request, globals map[string]any) error {
	for _, f := range req.ExtraFiles {
		if err := f.Validate(); err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "%v", err)
		}
	}

	input, err := json.Marshal(harnessInput{
		Code:       req.Code,
		Globals:    canon.JSONSafe(globals),
		PythonPath: req.PythonPath,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.JailMisconfigured, "encode harness input: %v", err)
	}

	dir, err := j.prepareDir(req.ExtraFiles)
	if err != nil {
		return appErr.Wrapf(err, appErr.JailMisconfigured, "prepare sandbox: %v", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn(ctx, "remove sandbox dir failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	res, err := j.run(ctx, dir, input, req)
	if err != nil {
		return err
	}
	if res.status != 0 {
		return appErr.SafeExecFailure(fmt.Sprintf(
			"Couldn't execute jailed code: stdout: %s, stderr: %s with status code: %d",
			pyBytesRepr(res.stdout), pyBytesRepr(res.stderr), res.status))
	}

	out, err := canon.Decode(res.stdout)
	if err != nil {
		return appErr.Wrapf(err, appErr.JailMisconfigured, "decode harness output: %v", err).
			WithDetail("stdout", string(truncate(res.stdout, 512)))
	}
	spec.Merge(globals, out)
	return nil
}

func (j *Jail) prepareDir(files []spec.ExtraFile) (string, error) {
	dir, err := os.MkdirTemp(j.cfg.TmpRoot, "codejail-")
	if err != nil {
		return "", err
	}
	cleanup := func(err error) (string, error) {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return cleanup(err)
	}
	// The sandboxed code writes scratch files here.
	if err := os.Mkdir(filepath.Join(dir, "tmp"), 0o777); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(filepath.Join(dir, "tmp"), 0o777); err != nil {
		return cleanup(err)
	}
	if err := os.WriteFile(filepath.Join(dir, harnessName), harnessSource, 0o644); err != nil {
		return cleanup(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Content, 0o644); err != nil {
			return cleanup(err)
		}
	}
	return dir, nil
}

type runResult struct {
	stdout []byte
	stderr []byte
	status int
}

func (j *Jail) run(ctx context.Context, dir string, input []byte, req spec.Request) (runResult, error) {
	argv := j.command(req.Unsafely)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = j.childEnv()

	user := j.cfg.User
	if req.Unsafely {
		user = ""
	}
	attr, err := sysProcAttr(user)
	if err != nil {
		return runResult{}, appErr.Wrapf(err, appErr.JailMisconfigured, "sandbox user: %v", err)
	}
	cmd.SysProcAttr = attr

	stdout := &limitedBuffer{max: j.cfg.OutputMaxBytes}
	stderr := &limitedBuffer{max: j.cfg.OutputMaxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runResult{}, appErr.Wrapf(err, appErr.JailMisconfigured, "stdin pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return runResult{}, appErr.Wrapf(err, appErr.JailMisconfigured, "start interpreter: %v", err)
	}
	pid := cmd.Process.Pid

	// The harness blocks on stdin, so limits are in place before any user code runs.
	if !req.Unsafely {
		if err := applyLimits(ctx, pid, req.Limits); err != nil {
			killProcessGroup(pid)
			_ = cmd.Wait()
			return runResult{}, appErr.Wrapf(err, appErr.JailMisconfigured, "apply limits: %v", err)
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall, _ := req.Limits.Get(limits.Realtime); wall > 0 && !req.Unsafely {
			t := time.NewTimer(time.Duration(wall) * time.Second)
			defer t.Stop()
			wallTimer = t.C
		}
		select {
		case <-ctx.Done():
			killProcessGroup(pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(pid)
		case <-done:
		}
	}()

	_, writeErr := stdin.Write(input)
	_ = stdin.Close()

	waitErr := cmd.Wait()
	close(done)

	if ctx.Err() != nil {
		return runResult{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "jail run cancelled: %v", ctx.Err())
	}
	status := exitStatus(cmd.ProcessState)
	if writeErr != nil && status == 0 {
		return runResult{}, appErr.Wrapf(writeErr, appErr.JailMisconfigured, "write harness input: %v", writeErr)
	}
	if waitErr != nil && cmd.ProcessState == nil {
		return runResult{}, appErr.Wrapf(waitErr, appErr.JailMisconfigured, "wait interpreter: %v", waitErr)
	}
	if timedOut.Load() {
		logger.Info(ctx, "jailed code exceeded real time limit",
			zap.String("slug", req.Slug), zap.Int("status", status))
		if status == 0 {
			status = -int(killSignal)
		}
	}
	return runResult{stdout: stdout.Bytes(), stderr: stderr.Bytes(), status: status}, nil
}

func (j *Jail) command(unsafely bool) []string {
	var argv []string
	if !unsafely && j.cfg.InitPath != "" && j.cfg.SeccompProfile != "" {
		argv = append(argv, j.cfg.InitPath, "-seccomp", j.cfg.SeccompProfile, "--")
	}
	argv = append(argv, j.argv...)
	return append(argv, harnessName)
}

func (j *Jail) childEnv() []string {
	env := append([]string(nil), j.cfg.Env...)
	for _, kv := range env {
		if strings.HasPrefix(kv, "PYTHONIOENCODING=") {
			return env
		}
	}
	return append(env, "PYTHONIOENCODING=utf-8")
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(b.buf.Len())
	if room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
