package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"capajail/internal/codejail/config"
	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/remote"
	"capajail/internal/codejail/resultcache"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
)

const sampleYAML = `
server:
  addr: "127.0.0.1:9000"
codeJail:
  pythonBin: "/usr/bin/python3 -E"
  user: sandbox
  limits:
    realtime: 100
    CPU: 3
  limitOverrides:
    course-v1:big:
      REALTIME: 200
      NPROC: 30
codeJailRestService:
  enabled: false
  host: "http://jail.internal:8550"
  connectTimeout: 750ms
darklaunch:
  emsgNormalizers:
    - search: 'foo[0-9]+'
      replace: 'foo<N>'
  emsgNormalizersCombine: replace
coursesWithUnsafeCode:
  - 'course-v1:Trusted\+.*'
resultCache:
  backend: memory
  ttl: 1h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codejail.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadYAML(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if s.Server.Addr != "127.0.0.1:9000" || s.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server settings: %+v", s.Server)
	}
	if s.CodeJail.User != "sandbox" || s.CodeJail.PythonBin != "/usr/bin/python3 -E" {
		t.Fatalf("unexpected jail settings: %+v", s.CodeJail)
	}
	if s.RestService.ConnectTimeout != 750*time.Millisecond {
		t.Fatalf("connect timeout = %v", s.RestService.ConnectTimeout)
	}
	if s.RestService.ReadTimeout != remote.DefaultReadTimeout {
		t.Fatalf("read timeout default not applied: %v", s.RestService.ReadTimeout)
	}
	if s.RestService.RemoteExec != remote.DefaultRemoteExec {
		t.Fatalf("remote exec default not applied: %q", s.RestService.RemoteExec)
	}
	if s.ResultCache.TTL != time.Hour || s.ResultCache.Backend != config.CacheBackendMemory {
		t.Fatalf("unexpected result cache settings: %+v", s.ResultCache)
	}
	norm := s.Darklaunch.Normalizer()
	if norm.Combine != emsg.CombineReplace || len(norm.Rules) != 1 {
		t.Fatalf("unexpected normalizer settings: %+v", norm)
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	s, err := config.LoadWith("", env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if s.RestService.Host != remote.DefaultHost {
		t.Fatalf("host = %q", s.RestService.Host)
	}
	if s.RestService.ConnectTimeout != remote.DefaultConnectTimeout {
		t.Fatalf("connect timeout = %v", s.RestService.ConnectTimeout)
	}
	if s.RestService.Enabled || s.Darklaunch.Enabled {
		t.Fatalf("remote service and dark launch are off by default")
	}
	if s.ResultCache.Backend != config.CacheBackendNone {
		t.Fatalf("backend = %q", s.ResultCache.Backend)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(map[string]string{
		config.EnvRestServiceEnabled: "True",
		config.EnvRestServiceHost:    "https://codejail.example.com",
		config.EnvRestServiceConnect: "0.25",
		config.EnvRestServiceRead:    "10",
		config.EnvOAuthURL:           "https://lms.example.com",
		config.EnvOAuthClientID:      "id",
		config.EnvOAuthClientSecret:  "secret",
		config.EnvDarklaunch:         "1",
		config.EnvDarklaunchCombine:  "append",
	}))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	rs := s.RestService
	if !rs.Enabled || rs.Host != "https://codejail.example.com" {
		t.Fatalf("unexpected rest service: %+v", rs)
	}
	if rs.ConnectTimeout != 250*time.Millisecond || rs.ReadTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v / %v", rs.ConnectTimeout, rs.ReadTimeout)
	}
	if !rs.Remote().OAuth.Enabled() {
		t.Fatalf("oauth should be enabled")
	}
	if !s.Darklaunch.Enabled || s.Darklaunch.Normalizer().Combine != emsg.CombineAppend {
		t.Fatalf("unexpected darklaunch: %+v", s.Darklaunch)
	}
}

func TestNormalizerCombineIsParsed(t *testing.T) {
	cases := map[string]emsg.Combine{
		"APPEND":    emsg.CombineAppend,
		" replace ": emsg.CombineReplace,
		"":          emsg.CombineAppend,
		"merge":     emsg.Combine("merge"),
	}
	for raw, want := range cases {
		d := config.DarklaunchConfig{EmsgNormalizersCombine: raw}
		if got := d.Normalizer().Combine; got != want {
			t.Fatalf("combine %q = %q, want %q", raw, got, want)
		}
	}

	d := config.DarklaunchConfig{
		EmsgNormalizers:        []emsg.RuleConfig{{Search: `secret-[0-9]+`, Replace: "secret-N"}},
		EmsgNormalizersCombine: "REPLACE",
	}
	n := emsg.New(d.Normalizer())
	if got := n.Normalize(context.Background(), "secret-42 at line 7"); got != "secret-N at line 7" {
		t.Fatalf("host rules dropped: %q", got)
	}
}

func TestInvalidEnvironment(t *testing.T) {
	cases := map[string]string{
		config.EnvRestServiceEnabled: "maybe",
		config.EnvDarklaunch:         "yes please",
		config.EnvRestServiceConnect: "soon",
		config.EnvRestServiceRead:    "-1",
	}
	for key, value := range cases {
		if _, err := config.LoadWith("", env(map[string]string{key: value})); err == nil {
			t.Fatalf("%s=%q should be rejected", key, value)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown limit":    "codeJail:\n  limits:\n    DISK: 1\n",
		"negative limit":   "codeJail:\n  limits:\n    CPU: -1\n",
		"bad override":     "codeJail:\n  limitOverrides:\n    c:\n      FOO: 1\n",
		"unknown backend":  "resultCache:\n  backend: memcached\n",
		"redis needs addr": "resultCache:\n  backend: redis\n",
		"seccomp no init":  "codeJail:\n  seccompProfile: /etc/p.json\n",
	}
	for name, body := range cases {
		if _, err := config.LoadWith(writeConfig(t, body), env(nil)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
	if _, err := config.LoadWith(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestLimitResolver(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	r, err := s.LimitResolver()
	if err != nil {
		t.Fatalf("LimitResolver: %v", err)
	}
	base := r.Resolve("")
	if v, _ := base.Get(limits.Realtime); v != 100 {
		t.Fatalf("REALTIME = %d, want 100", v)
	}
	if v, _ := base.Get(limits.CPU); v != 3 {
		t.Fatalf("CPU = %d, want 3", v)
	}
	big := r.Resolve("course-v1:big")
	if v, _ := big.Get(limits.Realtime); v != 200 {
		t.Fatalf("override REALTIME = %d, want 200", v)
	}
	if v, _ := big.Get(limits.CPU); v != 3 {
		t.Fatalf("override must keep CPU from the defaults, got %d", v)
	}
}

func TestUnsafePolicy(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	p, err := s.UnsafePolicy()
	if err != nil {
		t.Fatalf("UnsafePolicy: %v", err)
	}
	if !p.CanExecuteUnsafeCode("course-v1:Trusted+A+B") || p.CanExecuteUnsafeCode("course-v1:big") {
		t.Fatalf("unexpected unsafe policy decisions")
	}
}

func TestMemoryResultCache(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	store, kv, err := s.OpenResultCache()
	if err != nil {
		t.Fatalf("OpenResultCache: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()
	msg := "boom"
	if err := store.Set(ctx, "k", resultcache.Entry{Emsg: &msg, Globals: map[string]any{}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entry, hit, err := store.Get(ctx, "k")
	if err != nil || !hit || entry.Emsg == nil || *entry.Emsg != "boom" {
		t.Fatalf("Get = %+v, %v, %v", entry, hit, err)
	}

	none, err := config.LoadWith("", env(nil))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if store, kv, err := none.OpenResultCache(); store != nil || kv != nil || err != nil {
		t.Fatalf("none backend should yield nothing")
	}
}

func TestBuildRunnerUsesRegistry(t *testing.T) {
	s, err := config.LoadWith(writeConfig(t, sampleYAML), env(map[string]string{
		config.EnvRestServiceEnabled: "true",
		config.EnvRestServiceRemote:  "custom.transport",
	}))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	var seen spec.Request
	registry := remote.NewRegistry(nil)
	registry.Register("custom.transport", func(remote.Config) (spec.Executor, error) {
		return spec.ExecutorFunc(func(_ context.Context, req spec.Request, globals map[string]any) error {
			seen = req
			globals["via"] = "custom"
			return nil
		}), nil
	})
	rec := telemetry.NewMemoryRecorder()
	runner, err := s.BuildRunner(context.Background(), config.Deps{Recorder: rec, Registry: registry})
	if err != nil {
		t.Fatalf("BuildRunner: %v", err)
	}
	globals := map[string]any{}
	if err := runner.SafeExec(context.Background(), "x = 1", globals, safeexec.Options{LimitOverridesContext: "course-v1:big"}); err != nil {
		t.Fatalf("SafeExec: %v", err)
	}
	if globals["via"] != "custom" {
		t.Fatalf("custom transport not used: %#v", globals)
	}
	if v, _ := seen.Limits.Get(limits.Realtime); v != 200 {
		t.Fatalf("resolved REALTIME = %d, want 200", v)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	s, err := config.LoadWith(filepath.Join("..", "..", "..", "configs", "codejail.yaml"), env(nil))
	if err != nil {
		t.Fatalf("sample config: %v", err)
	}
	if _, err := s.LimitResolver(); err != nil {
		t.Fatalf("sample limits: %v", err)
	}
	if _, err := s.UnsafePolicy(); err != nil {
		t.Fatalf("sample unsafe policy: %v", err)
	}
}
