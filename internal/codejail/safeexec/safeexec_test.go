package safeexec_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/prologue"
	"capajail/internal/codejail/resultcache"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	"capajail/internal/common/cache"
	appErr "capajail/pkg/errors"
)

// fakeExecutor understands a handful of one-line programs.
type fakeExecutor struct {
	calls   atomic.Int32
	lastReq spec.Request
	err     error
}

func (f *fakeExecutor) Exec(_ context.Context, req spec.Request, globals map[string]any) error {
	f.calls.Add(1)
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	switch {
	case strings.HasSuffix(req.Code, "a = 1/2"):
		globals["a"] = 0.5
	case strings.HasSuffix(req.Code, "a = int(math.pi)"):
		globals["a"] = int64(3)
	case strings.HasSuffix(req.Code, "1/0"):
		return appErr.SafeExecFailure("Traceback (most recent call last):\nZeroDivisionError: division by zero")
	case strings.HasSuffix(req.Code, "b = a + 1"):
		globals["b"] = globals["a"].(int64) + 1
	}
	return nil
}

func newStore() resultcache.Store {
	return resultcache.NewKVStore(cache.NewLRUCache(64, 0), resultcache.Options{})
}

func newRunner(t *testing.T, cfg safeexec.Config) *safeexec.Runner {
	t.Helper()
	r, err := safeexec.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestSuccessAppliesGlobals(t *testing.T) {
	local := &fakeExecutor{}
	r := newRunner(t, safeexec.Config{Local: local})
	globals := map[string]any{}
	if err := r.SafeExec(context.Background(), "a = 1/2", globals, safeexec.Options{}); err != nil {
		t.Fatalf("SafeExec: %v", err)
	}
	if globals["a"] != 0.5 {
		t.Fatalf("unexpected globals %#v", globals)
	}
	if local.lastReq.Code != prologue.Build(nil, "a = 1/2") {
		t.Fatalf("code was not wrapped with the prologue")
	}
}

func TestSeedReachesPrologue(t *testing.T) {
	local := &fakeExecutor{}
	r := newRunner(t, safeexec.Config{Local: local})
	seed := int64(17)
	_ = r.SafeExec(context.Background(), "x = 1", map[string]any{}, safeexec.Options{RandomSeed: &seed})
	if !strings.Contains(local.lastReq.Code, "Random(17)") {
		t.Fatalf("seed missing from prologue")
	}
}

func TestUserFailureIsCachedAndReplayed(t *testing.T) {
	local := &fakeExecutor{}
	r := newRunner(t, safeexec.Config{Local: local})
	store := newStore()
	globals := map[string]any{"keep": int64(1)}

	err := r.SafeExec(context.Background(), "1/0", globals, safeexec.Options{Cache: store})
	if !safeexec.IsSafeExecFailure(err) || !strings.Contains(err.Error(), "ZeroDivisionError") {
		t.Fatalf("expected SafeExecFailure with ZeroDivisionError, got %v", err)
	}
	if len(globals) != 1 || globals["keep"] != int64(1) {
		t.Fatalf("globals must be untouched on failure: %#v", globals)
	}

	again := map[string]any{"keep": int64(1)}
	err2 := r.SafeExec(context.Background(), "1/0", again, safeexec.Options{Cache: store})
	if !safeexec.IsSafeExecFailure(err2) {
		t.Fatalf("expected cached failure, got %v", err2)
	}
	if appErr.GetError(err2).Message != appErr.GetError(err).Message {
		t.Fatalf("cached message differs")
	}
	if local.calls.Load() != 1 {
		t.Fatalf("executor called %d times, want 1", local.calls.Load())
	}
}

func TestWarmCacheSkipsExecutor(t *testing.T) {
	local := &fakeExecutor{}
	r := newRunner(t, safeexec.Config{Local: local})
	store := newStore()

	first := map[string]any{"a": int64(1), "z": "x"}
	if err := r.SafeExec(context.Background(), "b = a + 1", first, safeexec.Options{Cache: store}); err != nil {
		t.Fatalf("SafeExec: %v", err)
	}
	// Same contents, different insertion order.
	second := map[string]any{}
	second["z"] = "x"
	second["a"] = int64(1)
	if err := r.SafeExec(context.Background(), "b = a + 1", second, safeexec.Options{Cache: store}); err != nil {
		t.Fatalf("SafeExec: %v", err)
	}
	if second["b"] != int64(2) {
		t.Fatalf("cached globals not applied: %#v", second)
	}
	if local.calls.Load() != 1 {
		t.Fatalf("executor called %d times, want 1", local.calls.Load())
	}
}

func TestUnexpectedErrorsAreNotCached(t *testing.T) {
	remote := &fakeExecutor{err: appErr.New(appErr.RemoteUnavailable)}
	r := newRunner(t, safeexec.Config{Remote: remote, UseRemote: true})
	store := newStore()

	for i := 0; i < 2; i++ {
		globals := map[string]any{}
		err := r.SafeExec(context.Background(), "a = 1/2", globals, safeexec.Options{Cache: store})
		if !appErr.Is(err, appErr.RemoteUnavailable) {
			t.Fatalf("expected RemoteUnavailable, got %v", err)
		}
		if safeexec.IsSafeExecFailure(err) {
			t.Fatalf("transport errors are not user failures")
		}
	}
	if remote.calls.Load() != 2 {
		t.Fatalf("remote called %d times, want 2", remote.calls.Load())
	}
}

func TestLimitOverridesContext(t *testing.T) {
	local := &fakeExecutor{}
	resolver := limits.NewResolver(nil,
		limits.Map{limits.Realtime: 100},
		map[string]limits.Map{
			"course-v1:big":   {limits.Realtime: 200, limits.NProc: 30},
			"course-v1:other": {limits.Realtime: 200},
		})
	r := newRunner(t, safeexec.Config{Local: local, Resolver: resolver})
	ctx := context.Background()

	_ = r.SafeExec(ctx, "a = 1/2", map[string]any{}, safeexec.Options{})
	if got, _ := local.lastReq.Limits.Get(limits.Realtime); got != 100 {
		t.Fatalf("default REALTIME = %d, want 100", got)
	}

	_ = r.SafeExec(ctx, "a = 1/2", map[string]any{}, safeexec.Options{LimitOverridesContext: "course-v1:big"})
	if got, _ := local.lastReq.Limits.Get(limits.Realtime); got != 200 {
		t.Fatalf("override REALTIME = %d, want 200", got)
	}
	if got, _ := local.lastReq.Limits.Get(limits.NProc); got != 30 {
		t.Fatalf("override NPROC = %d, want 30", got)
	}

	_ = r.SafeExec(ctx, "a = 1/2", map[string]any{}, safeexec.Options{LimitOverridesContext: "course-v1:other"})
	if got, _ := local.lastReq.Limits.Get(limits.NProc); got != 15 {
		t.Fatalf("NPROC = %d, want built-in 15", got)
	}
	if local.lastReq.LimitOverridesContext != "course-v1:other" {
		t.Fatalf("context not forwarded")
	}
}

func TestRouting(t *testing.T) {
	local, remote := &fakeExecutor{}, &fakeExecutor{}
	r := newRunner(t, safeexec.Config{Local: local, Remote: remote, UseRemote: true})
	_ = r.SafeExec(context.Background(), "a = 1/2", map[string]any{}, safeexec.Options{Unsafely: true})
	if remote.calls.Load() != 1 || local.calls.Load() != 0 {
		t.Fatalf("remote should be primary: local=%d remote=%d", local.calls.Load(), remote.calls.Load())
	}
	if !remote.lastReq.Unsafely {
		t.Fatalf("unsafely not forwarded")
	}
}

func TestDarklaunchRunsBothArms(t *testing.T) {
	local := &fakeExecutor{}
	remote := &fakeExecutor{err: appErr.New(appErr.RemoteUnavailable)}
	rec := telemetry.NewMemoryRecorder()
	r := newRunner(t, safeexec.Config{Local: local, Remote: remote, Darklaunch: true, Recorder: rec})

	globals := map[string]any{}
	if err := r.SafeExec(context.Background(), "a = int(math.pi)", globals, safeexec.Options{Slug: "p7"}); err != nil {
		t.Fatalf("SafeExec: %v", err)
	}
	if globals["a"] != int64(3) {
		t.Fatalf("primary result not applied: %#v", globals)
	}
	if local.calls.Load() != 1 || remote.calls.Load() != 1 {
		t.Fatalf("both arms must run")
	}
	if v, _ := rec.Get(telemetry.AttrDarklaunchStatusPrefix + "remote"); v != "unexpected_error" {
		t.Fatalf("remote status = %v", v)
	}
	if v, _ := rec.Get(telemetry.AttrDarklaunchGlobalsMatch); v != "N/A" {
		t.Fatalf("globals_match = %v", v)
	}
	if v, _ := rec.Get(telemetry.AttrSlug); v != "p7" {
		t.Fatalf("slug = %v", v)
	}
}

func TestCallAttributes(t *testing.T) {
	rec := telemetry.NewMemoryRecorder()
	r := newRunner(t, safeexec.Config{Local: &fakeExecutor{}, Recorder: rec})
	_ = r.SafeExec(context.Background(), "a = 1/2", map[string]any{}, safeexec.Options{
		ExtraFiles: []spec.ExtraFile{{Name: "a.txt"}, {Name: "b.txt"}},
	})
	if v, _ := rec.Get(telemetry.AttrExtraFilesCount); v != 2 {
		t.Fatalf("extra_files_count = %v", v)
	}
	if v, ok := rec.Get(telemetry.AttrSlug); !ok || v != nil {
		t.Fatalf("absent slug should be recorded as nil, got %v", v)
	}
	if v, ok := rec.Get(telemetry.AttrLimitOverridesContext); !ok || v != nil {
		t.Fatalf("absent context should be recorded as nil, got %v", v)
	}
}

func TestNewValidatesExecutors(t *testing.T) {
	if _, err := safeexec.New(safeexec.Config{}); err == nil {
		t.Fatalf("missing local executor must fail")
	}
	if _, err := safeexec.New(safeexec.Config{Local: &fakeExecutor{}, UseRemote: true}); err == nil {
		t.Fatalf("missing remote executor must fail")
	}
	if _, err := safeexec.New(safeexec.Config{Local: &fakeExecutor{}, Darklaunch: true}); err == nil {
		t.Fatalf("dark launch needs both executors")
	}
	if _, err := safeexec.New(safeexec.Config{Remote: &fakeExecutor{}, UseRemote: true}); err != nil {
		t.Fatalf("remote-only configuration should be valid: %v", err)
	}
}

func TestUnsafePolicy(t *testing.T) {
	p, err := safeexec.NewUnsafePolicy([]string{`course-v1:Trusted\+.*`, `library-v1:lab`})
	if err != nil {
		t.Fatalf("NewUnsafePolicy: %v", err)
	}
	cases := map[string]bool{
		"course-v1:Trusted+CS101+2024": true,
		"library-v1:lab+extra":         true,
		"xcourse-v1:Trusted+CS101":     false,
		"course-v1:Other+CS101":        false,
		"":                             false,
	}
	for key, want := range cases {
		if got := p.CanExecuteUnsafeCode(key); got != want {
			t.Fatalf("CanExecuteUnsafeCode(%q) = %v, want %v", key, got, want)
		}
	}
	if _, err := safeexec.NewUnsafePolicy([]string{"("}); err == nil {
		t.Fatalf("expected compile error")
	}
	var nilPolicy *safeexec.UnsafePolicy
	if nilPolicy.CanExecuteUnsafeCode("course-v1:Trusted+X") {
		t.Fatalf("nil policy must deny")
	}
}
