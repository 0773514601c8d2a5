// Package safeexec is the single entry point hosts use to run problem code.
package safeexec

import (
	"context"
	"fmt"
	"time"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/darklaunch"
	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/prologue"
	"capajail/internal/codejail/resultcache"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/contextkey"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config wires a Runner.
type Config struct {
	// Local runs code in the local jail; it honours Request.Unsafely.
	Local spec.Executor
	// Remote runs code on the codejail service.
	Remote spec.Executor
	// Resolver produces the effective limits; nil means jail built-ins only.
	Resolver *limits.Resolver
	// UseRemote makes the remote executor primary.
	UseRemote bool
	// Darklaunch runs the other executor as a shadow and compares outcomes.
	Darklaunch bool
	// Normalizer is used by the default comparator; nil means the built-in rules.
	Normalizer *emsg.Normalizer
	Comparator *darklaunch.Comparator
	Recorder   telemetry.Recorder
	Metrics    *telemetry.Metrics
}

// Options are the per-call arguments of SafeExec.
type Options struct {
	RandomSeed            *int64
	PythonPath            []string
	ExtraFiles            []spec.ExtraFile
	Cache                 resultcache.Store
	LimitOverridesContext string
	Slug                  string
	Unsafely              bool
}

// Runner executes submissions. It is safe for concurrent use.
type Runner struct {
	cfg Config
}

// New validates cfg.
func New(cfg Config) (*Runner, error) {
	if cfg.Resolver == nil {
		cfg.Resolver = limits.NewResolver(nil, nil, nil)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.Nop{}
	}
	if cfg.UseRemote || cfg.Darklaunch {
		if cfg.Remote == nil {
			return nil, fmt.Errorf("remote executor is required when the remote service or dark launch is enabled")
		}
	}
	if !cfg.UseRemote || cfg.Darklaunch {
		if cfg.Local == nil {
			return nil, fmt.Errorf("local executor is required")
		}
	}
	if cfg.Darklaunch && cfg.Comparator == nil {
		cfg.Comparator = darklaunch.NewComparator(cfg.Normalizer, cfg.Recorder, cfg.Metrics)
	}
	return &Runner{cfg: cfg}, nil
}

// IsSafeExecFailure reports whether err is a user-code failure.
func IsSafeExecFailure(err error) bool {
	return appErr.Is(err, appErr.SafeExecFailed)
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SafeExec runs code against globals.
//
// On success globals receive the values the code left behind. A user-code
// failure is returned as an error coded SafeExecFailed and leaves globals
// untouched; any other error comes from an executor and is never cached.
func (r *Runner) SafeExec(ctx context.Context, code string, globals map[string]any, opts Options) error {
	if globals == nil {
		return appErr.BadRequest("globals must not be nil")
	}
	if opts.Slug != "" {
		ctx = context.WithValue(ctx, contextkey.Slug, opts.Slug)
	}
	if opts.LimitOverridesContext != "" {
		ctx = context.WithValue(ctx, contextkey.LimitOverridesContext, opts.LimitOverridesContext)
	}
	r.cfg.Recorder.SetAttribute(ctx, telemetry.AttrSlug, optional(opts.Slug))
	r.cfg.Recorder.SetAttribute(ctx, telemetry.AttrLimitOverridesContext, optional(opts.LimitOverridesContext))
	r.cfg.Recorder.SetAttribute(ctx, telemetry.AttrExtraFilesCount, len(opts.ExtraFiles))

	var key string
	if opts.Cache != nil {
		key = canon.CacheKey(code, globals, opts.RandomSeed)
		entry, hit, err := opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			r.cfg.Metrics.CacheLookup("error")
			logger.Warn(ctx, "result cache lookup failed", zap.String("key", key), zap.Error(err))
		case hit:
			r.cfg.Metrics.CacheLookup("hit")
			spec.Merge(globals, entry.Globals)
			if entry.Emsg != nil {
				return appErr.SafeExecFailure(*entry.Emsg)
			}
			return nil
		default:
			r.cfg.Metrics.CacheLookup("miss")
		}
	}

	req := spec.Request{
		Code:                  prologue.Build(opts.RandomSeed, code),
		PythonPath:            opts.PythonPath,
		ExtraFiles:            opts.ExtraFiles,
		Limits:                r.cfg.Resolver.Resolve(opts.LimitOverridesContext),
		LimitOverridesContext: opts.LimitOverridesContext,
		Slug:                  opts.Slug,
		Unsafely:              opts.Unsafely,
	}

	work := spec.DeepCopy(globals)
	err := r.execute(ctx, req, work)

	var emsg *string
	switch {
	case err == nil:
		spec.Replace(globals, work)
	case IsSafeExecFailure(err):
		msg := appErr.GetError(err).Message
		emsg = &msg
	default:
		return err
	}

	if opts.Cache != nil {
		entry := resultcache.Entry{Emsg: emsg, Globals: canon.JSONSafe(globals)}
		if setErr := opts.Cache.Set(ctx, key, entry); setErr != nil {
			r.cfg.Metrics.CacheStoreFailed()
			logger.Info(ctx, "result cache store failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return err
}

func (r *Runner) arms() (primary, shadow darklaunch.Arm) {
	local := darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: r.cfg.Local}
	remote := darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: r.cfg.Remote}
	if r.cfg.UseRemote {
		return remote, local
	}
	return local, remote
}

func (r *Runner) execute(ctx context.Context, req spec.Request, globals map[string]any) error {
	primary, shadow := r.arms()
	if r.cfg.Darklaunch {
		return r.cfg.Comparator.Run(ctx, req, globals, primary, shadow)
	}
	start := time.Now()
	err := primary.Executor.Exec(ctx, req, globals)
	r.cfg.Metrics.ObserveExecution(primary.Name, darklaunch.Status(err), time.Since(start))
	return err
}
