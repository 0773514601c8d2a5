// Command safe-exec runs one Python source file through SafeExec and prints
// the resulting globals, the failure message and the recorded telemetry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/config"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type options struct {
	configPath  string
	envPath     string
	file        string
	globalsPath string
	seed        string
	context     string
	slug        string
	extra       string
	pythonPath  string
	unsafely    bool
}

type output struct {
	Globals   map[string]any `json:"globals"`
	Emsg      *string        `json:"emsg"`
	Telemetry map[string]any `json:"telemetry"`
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.envPath, "env", ".env", "Optional dotenv file")
	flag.StringVar(&opts.file, "file", "", "Python source file to run (- for stdin)")
	flag.StringVar(&opts.globalsPath, "globals", "", "JSON file with the initial globals")
	flag.StringVar(&opts.seed, "seed", "", "Random seed; empty means no seed")
	flag.StringVar(&opts.context, "context", "", "Limit overrides context")
	flag.StringVar(&opts.slug, "slug", "", "Identifier recorded with the execution")
	flag.StringVar(&opts.extra, "extra", "", "Comma-separated files copied into the sandbox")
	flag.StringVar(&opts.pythonPath, "python-path", "", "Comma-separated sandbox-relative import paths")
	flag.BoolVar(&opts.unsafely, "unsafe", false, "Run outside the jail when the context allows it")
	flag.Parse()

	code, err := run(context.Background(), opts, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "safe-exec: %v\n", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) (int, error) {
	if opts.envPath != "" {
		if _, err := os.Stat(opts.envPath); err == nil {
			if err := godotenv.Load(opts.envPath); err != nil {
				return 2, fmt.Errorf("load env file: %w", err)
			}
		}
	}
	appCfg, err := config.Load(opts.configPath)
	if err != nil {
		return 2, err
	}
	// Stdout carries the result document.
	if appCfg.Logger.OutputPath == "" {
		appCfg.Logger.OutputPath = "stderr"
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		return 2, fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, err := readSource(opts.file, stdin)
	if err != nil {
		return 2, err
	}
	globals, err := readGlobals(opts.globalsPath)
	if err != nil {
		return 2, err
	}
	seed, err := parseSeed(opts.seed)
	if err != nil {
		return 2, err
	}
	files, err := readExtraFiles(opts.extra)
	if err != nil {
		return 2, err
	}

	recorder := telemetry.NewMemoryRecorder()
	runner, err := appCfg.BuildRunner(ctx, config.Deps{
		Recorder: telemetry.Multi{recorder, telemetry.SpanRecorder{}},
		Metrics:  telemetry.NewMetrics(nil),
	})
	if err != nil {
		return 2, err
	}
	store, kv, err := appCfg.OpenResultCache()
	if err != nil {
		return 2, err
	}
	if kv != nil {
		defer func() {
			_ = kv.Close()
		}()
	}

	unsafely := false
	if opts.unsafely {
		policy, err := appCfg.UnsafePolicy()
		if err != nil {
			return 2, err
		}
		unsafely = policy.CanExecuteUnsafeCode(opts.context)
		if !unsafely {
			logger.Warn(ctx, "unsafe execution refused for context", zap.String("context", opts.context))
		}
	}

	execErr := runner.SafeExec(ctx, source, globals, safeexec.Options{
		RandomSeed:            seed,
		PythonPath:            splitList(opts.pythonPath),
		ExtraFiles:            files,
		Cache:                 store,
		LimitOverridesContext: opts.context,
		Slug:                  opts.slug,
		Unsafely:              unsafely,
	})

	out := output{Globals: canon.JSONSafe(globals), Telemetry: recorder.Snapshot()}
	exit := 0
	switch {
	case execErr == nil:
	case safeexec.IsSafeExecFailure(execErr):
		msg := appErr.GetError(execErr).Message
		out.Emsg = &msg
		exit = 1
	default:
		return 3, execErr
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 2, err
	}
	return exit, nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("-file is required")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}

func readGlobals(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read globals: %w", err)
	}
	globals, err := canon.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("globals must be a JSON object: %w", err)
	}
	return globals, nil
}

func parseSeed(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	seed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q", raw)
	}
	return &seed, nil
}

func readExtraFiles(raw string) ([]spec.ExtraFile, error) {
	var files []spec.ExtraFile
	for _, path := range splitList(raw) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read extra file: %w", err)
		}
		files = append(files, spec.ExtraFile{Name: filepath.Base(path), Content: data})
	}
	return files, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
