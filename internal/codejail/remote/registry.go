package remote

import (
	"context"
	"sort"
	"sync"

	"capajail/internal/codejail/spec"
	"capajail/internal/codejail/telemetry"
	appErr "capajail/pkg/errors"
	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultRemoteExec names the built-in transport. The value matches the
// dotted path hosts already configure.
const DefaultRemoteExec = "xmodule.capa.safe_exec.remote_exec.send_safe_exec_request_v0"

// Factory builds a remote executor from the service settings.
type Factory func(cfg Config) (spec.Executor, error)

// Registry maps dotted adapter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metrics   *telemetry.Metrics
}

// NewRegistry returns a registry holding the built-in transport.
func NewRegistry(metrics *telemetry.Metrics) *Registry {
	r := &Registry{factories: make(map[string]Factory), metrics: metrics}
	r.Register(DefaultRemoteExec, func(cfg Config) (spec.Executor, error) {
		return NewClient(cfg)
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// Names lists registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the adapter called name. Unknown names and failing factories
// fall back to the built-in transport; only a failure of the built-in
// transport itself is returned.
func (r *Registry) Resolve(ctx context.Context, name string, cfg Config) (spec.Executor, error) {
	if name == "" {
		name = DefaultRemoteExec
	}
	r.mu.RLock()
	factory, ok := r.factories[name]
	fallback := r.factories[DefaultRemoteExec]
	r.mu.RUnlock()

	if ok {
		exec, err := factory(cfg)
		if err == nil {
			logger.Info(ctx, "remote executor selected", zap.String("adapter", name))
			return exec, nil
		}
		if name == DefaultRemoteExec {
			return nil, appErr.Wrapf(err, appErr.AdapterMisconfigured, "built-in remote transport: %v", err)
		}
		logger.Warn(ctx, "remote adapter failed to initialise, using built-in transport",
			zap.String("adapter", name), zap.Int("code", int(appErr.AdapterMisconfigured)), zap.Error(err))
	} else {
		logger.Warn(ctx, "remote adapter is not registered, using built-in transport",
			zap.String("adapter", name), zap.Int("code", int(appErr.AdapterMisconfigured)))
	}
	r.metrics.AdapterFellBack()

	exec, err := fallback(cfg)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.AdapterMisconfigured, "built-in remote transport: %v", err)
	}
	return exec, nil
}
