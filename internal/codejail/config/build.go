package config

import (
	"context"
	"fmt"

	"capajail/internal/codejail/emsg"
	"capajail/internal/codejail/jail"
	"capajail/internal/codejail/limits"
	"capajail/internal/codejail/remote"
	"capajail/internal/codejail/resultcache"
	"capajail/internal/codejail/safeexec"
	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	"capajail/internal/common/cache"
)

// LimitResolver builds the resolver from codeJail.limits and codeJail.limitOverrides.
func (s *Settings) LimitResolver() (*limits.Resolver, error) {
	defaults, err := limits.ParseMap(s.CodeJail.Limits)
	if err != nil {
		return nil, fmt.Errorf("codeJail.limits: %w", err)
	}
	overrides := make(map[string]limits.Map, len(s.CodeJail.LimitOverrides))
	for key, raw := range s.CodeJail.LimitOverrides {
		m, err := limits.ParseMap(raw)
		if err != nil {
			return nil, fmt.Errorf("codeJail.limitOverrides[%s]: %w", key, err)
		}
		overrides[key] = m
	}
	return limits.NewResolver(nil, defaults, overrides), nil
}

// UnsafePolicy compiles coursesWithUnsafeCode.
func (s *Settings) UnsafePolicy() (*safeexec.UnsafePolicy, error) {
	return safeexec.NewUnsafePolicy(s.CoursesWithUnsafeCode)
}

// OpenResultCache opens the configured backend. Both return values are nil for
// the "none" backend. The caller closes the returned cache.
func (s *Settings) OpenResultCache() (resultcache.Store, cache.Cache, error) {
	var kv cache.Cache
	switch s.ResultCache.Backend {
	case CacheBackendNone:
		return nil, nil, nil
	case CacheBackendMemory:
		kv = cache.NewLRUCache(s.ResultCache.MemoryMaxEntries, s.ResultCache.TTL)
	case CacheBackendRedis:
		redisCfg := s.Redis
		redisCfg.ApplyDefaults()
		rc, err := cache.NewRedisCacheWithConfig(&redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis result cache: %w", err)
		}
		kv = rc
	default:
		return nil, nil, fmt.Errorf("unknown result cache backend %q", s.ResultCache.Backend)
	}
	return resultcache.NewKVStore(kv, s.ResultCache.Options()), kv, nil
}

// Deps are the process-wide collaborators of a Runner.
type Deps struct {
	Recorder telemetry.Recorder
	Metrics  *telemetry.Metrics
	// Registry resolves the remote transport; nil means the built-in registry.
	Registry *remote.Registry
}

// BuildRunner wires the SafeExec runner described by s.
func (s *Settings) BuildRunner(ctx context.Context, deps Deps) (*safeexec.Runner, error) {
	resolver, err := s.LimitResolver()
	if err != nil {
		return nil, err
	}

	useRemote := s.RestService.Enabled
	darklaunch := s.Darklaunch.Enabled

	var local spec.Executor
	if !useRemote || darklaunch {
		j, err := jail.NewJail(s.CodeJail.Jail())
		if err != nil {
			return nil, err
		}
		local = j
	}

	var remoteExec spec.Executor
	if useRemote || darklaunch {
		registry := deps.Registry
		if registry == nil {
			registry = remote.NewRegistry(deps.Metrics)
		}
		remoteExec, err = registry.Resolve(ctx, s.RestService.RemoteExec, s.RestService.Remote())
		if err != nil {
			return nil, err
		}
	}

	return safeexec.New(safeexec.Config{
		Local:      local,
		Remote:     remoteExec,
		Resolver:   resolver,
		UseRemote:  useRemote,
		Darklaunch: darklaunch,
		Normalizer: emsg.New(s.Darklaunch.Normalizer()),
		Recorder:   deps.Recorder,
		Metrics:    deps.Metrics,
	})
}
