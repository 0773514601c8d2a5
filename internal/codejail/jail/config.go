package jail

import (
	"fmt"
	"os"

	"github.com/google/shlex"
)

const (
	defaultPythonBin            = "python3"
	defaultOutputMaxBytes int64 = 1 << 20
)

// Config controls the local jail.
type Config struct {
	// PythonBin is the interpreter command line, e.g. "/sandbox/venv/bin/python -E".
	PythonBin string `yaml:"pythonBin"`
	// User runs sandboxed code under this account. Requires root.
	User string `yaml:"user"`
	// TmpRoot is where per-run directories are created. Defaults to os.TempDir().
	TmpRoot string `yaml:"tmpRoot"`
	// OutputMaxBytes caps captured stdout and stderr each.
	OutputMaxBytes int64 `yaml:"outputMaxBytes"`
	// Env is the complete environment of the child; the host environment is not inherited.
	Env []string `yaml:"env"`
	// InitPath is the jail-init binary that installs SeccompProfile before
	// exec'ing the interpreter. Both are needed for the filter to apply.
	InitPath       string `yaml:"initPath"`
	SeccompProfile string `yaml:"seccompProfile"`
}

func (c *Config) applyDefaults() {
	if c.PythonBin == "" {
		c.PythonBin = defaultPythonBin
	}
	if c.TmpRoot == "" {
		c.TmpRoot = os.TempDir()
	}
	if c.OutputMaxBytes <= 0 {
		c.OutputMaxBytes = defaultOutputMaxBytes
	}
}

func (c *Config) validate() error {
	if c.SeccompProfile != "" && c.InitPath == "" {
		return fmt.Errorf("seccomp profile %q needs initPath", c.SeccompProfile)
	}
	return nil
}

func parsePythonBin(raw string) ([]string, error) {
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("parse python bin %q: %w", raw, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("python bin is empty")
	}
	return argv, nil
}
