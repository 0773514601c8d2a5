package darklaunch_test

import (
	"context"
	"strings"
	"testing"

	"capajail/internal/codejail/darklaunch"
	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setting(values map[string]any) spec.ExecutorFunc {
	return func(_ context.Context, _ spec.Request, globals map[string]any) error {
		for k, v := range values {
			globals[k] = v
		}
		return nil
	}
}

func failing(err error) spec.ExecutorFunc {
	return func(context.Context, spec.Request, map[string]any) error { return err }
}

func run(t *testing.T, primary, shadow darklaunch.Arm, globals map[string]any) (*telemetry.MemoryRecorder, error) {
	t.Helper()
	rec := telemetry.NewMemoryRecorder()
	cmp := darklaunch.NewComparator(emsg.New(emsg.Config{}), rec, telemetry.NewMetrics(nil))
	err := cmp.Run(context.Background(), spec.Request{Slug: "p1"}, globals, primary, shadow)
	return rec, err
}

func expectAttr(t *testing.T, rec *telemetry.MemoryRecorder, key string, want any) {
	t.Helper()
	got, ok := rec.Get(key)
	if !ok || got != want {
		t.Fatalf("%s = %v (set=%v), want %v", key, got, ok, want)
	}
}

func TestMatchingArms(t *testing.T) {
	globals := map[string]any{}
	rec, err := run(t,
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: setting(map[string]any{"a": int64(3)})},
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: setting(map[string]any{"a": int64(3)})},
		globals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectAttr(t, rec, "codejail.darklaunch.status.local", "ok")
	expectAttr(t, rec, "codejail.darklaunch.status.remote", "ok")
	expectAttr(t, rec, "codejail.darklaunch.globals_match", true)
	expectAttr(t, rec, "codejail.darklaunch.emsg_match", true)
	if globals["a"] != int64(3) {
		t.Fatalf("primary result not applied: %#v", globals)
	}
}

func TestShadowTransportErrorIsNotApplicable(t *testing.T) {
	globals := map[string]any{}
	rec, err := run(t,
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: setting(map[string]any{"a": int64(3)})},
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: failing(appErr.New(appErr.RemoteUnavailable))},
		globals)
	if err != nil {
		t.Fatalf("shadow errors must not surface: %v", err)
	}
	expectAttr(t, rec, "codejail.darklaunch.status.local", "ok")
	expectAttr(t, rec, "codejail.darklaunch.status.remote", "unexpected_error")
	expectAttr(t, rec, "codejail.darklaunch.globals_match", "N/A")
	expectAttr(t, rec, "codejail.darklaunch.emsg_match", "N/A")
	if v, _ := rec.Get("codejail.darklaunch.exception.remote"); v == nil {
		t.Fatalf("shadow exception not recorded")
	}
	expectAttr(t, rec, "codejail.darklaunch.exception.local", nil)
	if globals["a"] != int64(3) {
		t.Fatalf("primary result not applied: %#v", globals)
	}
}

func TestShadowPanicIsSwallowed(t *testing.T) {
	globals := map[string]any{}
	rec, err := run(t,
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: setting(map[string]any{"a": int64(1)})},
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: spec.ExecutorFunc(func(context.Context, spec.Request, map[string]any) error {
			panic("kaboom")
		})},
		globals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectAttr(t, rec, "codejail.darklaunch.status.local", "unexpected_error")
}

func TestPrimaryErrorIsReturnedUnchanged(t *testing.T) {
	primaryErr := appErr.New(appErr.RemoteStatusError)
	_, err := run(t,
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: failing(primaryErr)},
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: setting(nil)},
		map[string]any{})
	if err != primaryErr {
		t.Fatalf("expected the primary error, got %v", err)
	}
}

func TestShadowRunsOnCopyTakenBeforePrimary(t *testing.T) {
	globals := map[string]any{"n": int64(1), "nested": map[string]any{"k": int64(1)}}
	var shadowSaw map[string]any
	primary := spec.ExecutorFunc(func(_ context.Context, _ spec.Request, g map[string]any) error {
		g["n"] = int64(2)
		g["nested"].(map[string]any)["k"] = int64(2)
		return nil
	})
	shadow := spec.ExecutorFunc(func(_ context.Context, _ spec.Request, g map[string]any) error {
		shadowSaw = spec.DeepCopy(g)
		g["shadow_only"] = true
		return nil
	})
	rec, _ := run(t,
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: primary},
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: shadow},
		globals)
	if shadowSaw["n"] != int64(1) || shadowSaw["nested"].(map[string]any)["k"] != int64(1) {
		t.Fatalf("shadow saw primary mutations: %#v", shadowSaw)
	}
	if _, ok := globals["shadow_only"]; ok {
		t.Fatalf("shadow touched caller globals")
	}
	expectAttr(t, rec, "codejail.darklaunch.globals_match", false)
}

func TestEmsgComparedAfterNormalization(t *testing.T) {
	local := appErr.SafeExecFailure(`File "/tmp/codejail-abc123/jailed_code", line 19
ZeroDivisionError: division by zero`)
	remoteErr := appErr.SafeExecFailure(`File "/tmp/codejail-zz9/jailed_code", line 21
ZeroDivisionError: division by zero`)
	rec, err := run(t,
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: failing(local)},
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: failing(remoteErr)},
		map[string]any{})
	if err != local {
		t.Fatalf("expected the local failure, got %v", err)
	}
	expectAttr(t, rec, "codejail.darklaunch.status.local", "safe_error")
	expectAttr(t, rec, "codejail.darklaunch.status.remote", "safe_error")
	expectAttr(t, rec, "codejail.darklaunch.emsg_match", true)
	expectAttr(t, rec, "codejail.darklaunch.globals_match", true)
}

func TestEmsgMismatch(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(nil) })

	localMsg := "File \"/tmp/codejail-abc/jailed_code\", line 3\nNameError: name 'x' is not defined"
	remoteMsg := "File \"/tmp/codejail-xyz/jailed_code\", line 3\nNameError: name 'y' is not defined"
	globals := map[string]any{"a": int64(1)}
	rec := telemetry.NewMemoryRecorder()
	cmp := darklaunch.NewComparator(emsg.New(emsg.Config{}), rec, nil)
	req := spec.Request{Slug: "p1", LimitOverridesContext: "course-v1:X"}
	_ = cmp.Run(context.Background(), req, globals,
		darklaunch.Arm{Name: darklaunch.ArmLocal, Executor: failing(appErr.SafeExecFailure(localMsg))},
		darklaunch.Arm{Name: darklaunch.ArmRemote, Executor: spec.ExecutorFunc(func(_ context.Context, _ spec.Request, g map[string]any) error {
			g["b"] = int64(2)
			return appErr.SafeExecFailure(remoteMsg)
		})})
	expectAttr(t, rec, "codejail.darklaunch.emsg_match", false)
	expectAttr(t, rec, "codejail.darklaunch.globals_match", false)
	expectAttr(t, rec, "codejail.darklaunch.exception.local", nil)
	expectAttr(t, rec, "codejail.darklaunch.exception.remote", nil)

	entries := logs.FilterMessage("darklaunch mismatch").All()
	if len(entries) != 1 {
		t.Fatalf("expected one mismatch line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["local_emsg"] != localMsg || fields["remote_emsg"] != remoteMsg {
		t.Fatalf("raw messages not logged: %v / %v", fields["local_emsg"], fields["remote_emsg"])
	}
	if norm, _ := fields["local_emsg_normalized"].(string); !strings.Contains(norm, "<SANDBOX_DIR_NAME>") {
		t.Fatalf("normalized message not logged: %q", norm)
	}
	if fields["slug"] != "p1" || fields["limit_overrides_context"] != "course-v1:X" {
		t.Fatalf("request identity missing: %v", fields)
	}
	localGlobals, _ := fields["local_globals"].(map[string]any)
	remoteGlobals, _ := fields["remote_globals"].(map[string]any)
	if localGlobals["a"] != int64(1) || remoteGlobals["b"] != int64(2) {
		t.Fatalf("globals not logged: %v / %v", fields["local_globals"], fields["remote_globals"])
	}
}
