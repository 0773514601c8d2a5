// Package darklaunch runs a shadow executor next to the primary one and
// reports whether their outcomes agree.
package darklaunch

import (
	"context"
	"fmt"
	"time"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
)

// Arm names.
const (
	ArmLocal  = "local"
	ArmRemote = "remote"
)

// Status of one arm.
const (
	StatusOK              = "ok"
	StatusSafeError       = "safe_error"
	StatusUnexpectedError = "unexpected_error"
)

// NotApplicable is recorded for both match attributes when either arm failed unexpectedly.
const NotApplicable = "N/A"

// Arm is one side of the comparison.
type Arm struct {
	Name     string
	Executor spec.Executor
}

// Comparator runs both arms and records the comparison.
type Comparator struct {
	normalizer *emsg.Normalizer
	recorder   telemetry.Recorder
	metrics    *telemetry.Metrics
}

// NewComparator builds a comparator. recorder may be nil.
func NewComparator(normalizer *emsg.Normalizer, recorder telemetry.Recorder, metrics *telemetry.Metrics) *Comparator {
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	if normalizer == nil {
		normalizer = emsg.New(emsg.Config{})
	}
	return &Comparator{normalizer: normalizer, recorder: recorder, metrics: metrics}
}

type outcome struct {
	status string
	emsg   *string
	err    error
}

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcome{status: StatusOK}
	case appErr.Is(err, appErr.SafeExecFailed):
		msg := appErr.GetError(err).Message
		return outcome{status: StatusSafeError, emsg: &msg, err: err}
	default:
		return outcome{status: StatusUnexpectedError, err: err}
	}
}

// Status classifies an executor error as ok, safe_error or unexpected_error.
func Status(err error) string {
	return classify(err).status
}

// Run executes primary on globals, then shadow on a copy taken before the
// primary ran. The shadow arm can never change the result: its errors and
// panics are recorded and dropped. The primary error is returned unchanged.
func (c *Comparator) Run(ctx context.Context, req spec.Request, globals map[string]any, primary, shadow Arm) error {
	shadowGlobals := spec.DeepCopy(globals)
	if shadowGlobals == nil {
		shadowGlobals = map[string]any{}
	}

	primaryErr := c.exec(ctx, primary, req, globals)
	shadowErr := c.execShadow(ctx, shadow, req, shadowGlobals)

	p, s := classify(primaryErr), classify(shadowErr)
	c.recordArm(ctx, primary.Name, p)
	c.recordArm(ctx, shadow.Name, s)

	if p.status == StatusUnexpectedError || s.status == StatusUnexpectedError {
		c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchGlobalsMatch, NotApplicable)
		c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchEmsgMatch, NotApplicable)
		c.metrics.DarklaunchCompared("na")
		logger.Info(ctx, "darklaunch comparison not applicable",
			zap.String("slug", req.Slug),
			zap.String(primary.Name+"_status", p.status),
			zap.String(shadow.Name+"_status", s.status),
			zap.NamedError(primary.Name+"_error", p.err),
			zap.NamedError(shadow.Name+"_error", s.err))
		return primaryErr
	}

	globalsMatch := canon.Fingerprint("", globals) == canon.Fingerprint("", shadowGlobals)
	pEmsg := c.normalizer.NormalizeOptional(ctx, p.emsg)
	sEmsg := c.normalizer.NormalizeOptional(ctx, s.emsg)
	emsgMatch := equalOptional(pEmsg, sEmsg)

	c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchGlobalsMatch, globalsMatch)
	c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchEmsgMatch, emsgMatch)
	if globalsMatch && emsgMatch {
		c.metrics.DarklaunchCompared("match")
		return primaryErr
	}

	c.metrics.DarklaunchCompared("mismatch")
	logger.Info(ctx, "darklaunch mismatch",
		zap.String("slug", req.Slug),
		zap.String("limit_overrides_context", req.LimitOverridesContext),
		zap.Bool("globals_match", globalsMatch),
		zap.Bool("emsg_match", emsgMatch),
		zap.String(primary.Name+"_emsg", optionalString(p.emsg)),
		zap.String(shadow.Name+"_emsg", optionalString(s.emsg)),
		zap.String(primary.Name+"_emsg_normalized", optionalString(pEmsg)),
		zap.String(shadow.Name+"_emsg_normalized", optionalString(sEmsg)),
		zap.Any(primary.Name+"_globals", canon.JSONSafe(globals)),
		zap.Any(shadow.Name+"_globals", canon.JSONSafe(shadowGlobals)))
	return primaryErr
}

func (c *Comparator) recordArm(ctx context.Context, name string, o outcome) {
	c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchStatusPrefix+name, o.status)
	var exception any
	if o.status == StatusUnexpectedError {
		exception = o.err.Error()
	}
	c.recorder.SetAttribute(ctx, telemetry.AttrDarklaunchExceptionPrefix+name, exception)
}

func (c *Comparator) exec(ctx context.Context, arm Arm, req spec.Request, globals map[string]any) error {
	start := time.Now()
	err := arm.Executor.Exec(ctx, req, globals)
	c.metrics.ObserveExecution(arm.Name, classify(err).status, time.Since(start))
	return err
}

func (c *Comparator) execShadow(ctx context.Context, arm Arm, req spec.Request, globals map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErr.Newf(appErr.InternalServerError, "shadow executor panicked: %v", r)
		}
	}()
	if arm.Executor == nil {
		return fmt.Errorf("shadow executor %q is not configured", arm.Name)
	}
	return c.exec(ctx, arm, req, globals)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optionalString(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}
