package emsg

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"capajail/pkg/utils/logger"

	"go.uber.org/zap"
)

// Combine selects how host rules relate to DefaultRules.
type Combine string

const (
	// CombineAppend runs host rules after the defaults.
	CombineAppend Combine = "append"
	// CombineReplace runs only the host rules.
	CombineReplace Combine = "replace"
)

// ParseCombine accepts "append" (also the empty string) or "replace".
func ParseCombine(raw string) (Combine, error) {
	switch Combine(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CombineAppend:
		return CombineAppend, nil
	case CombineReplace:
		return CombineReplace, nil
	}
	return "", fmt.Errorf("unknown normalizer combine mode %q", raw)
}

// Config is the host's normalizer configuration.
type Config struct {
	Rules   []RuleConfig `yaml:"rules"`
	Combine Combine      `yaml:"combine"`
}

// Normalizer applies the compiled rule list. The list is compiled on first
// use and kept until Reset.
type Normalizer struct {
	mu       sync.RWMutex
	cfg      Config
	compiled []Rule
	loaded   bool
}

// New creates a normalizer; compilation is deferred to first use.
func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Reconfigure swaps the configuration and drops the compiled rules.
func (n *Normalizer) Reconfigure(cfg Config) {
	n.mu.Lock()
	n.cfg = cfg
	n.compiled = nil
	n.loaded = false
	n.mu.Unlock()
}

// Reset drops the compiled rules so the next call recompiles them.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	n.compiled = nil
	n.loaded = false
	n.mu.Unlock()
}

// Rules returns the compiled rule list, compiling it if needed.
// A broken host configuration is logged and the defaults are used instead.
func (n *Normalizer) Rules(ctx context.Context) []Rule {
	n.mu.RLock()
	if n.loaded {
		rules := n.compiled
		n.mu.RUnlock()
		return rules
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loaded {
		return n.compiled
	}
	n.compiled = load(ctx, n.cfg)
	n.loaded = true
	return n.compiled
}

func load(ctx context.Context, cfg Config) []Rule {
	defaults, err := CompileRules(DefaultRules)
	if err != nil {
		// The defaults are part of this package; a failure here is a bug.
		panic(err)
	}

	combine := cfg.Combine
	if combine == "" {
		combine = CombineAppend
	}
	if combine != CombineAppend && combine != CombineReplace {
		logger.Warn(ctx, "unknown normalizer combine mode, using defaults",
			zap.String("combine", string(combine)))
		return defaults
	}
	if len(cfg.Rules) == 0 {
		if combine == CombineReplace {
			return nil
		}
		return defaults
	}

	custom, err := CompileRules(cfg.Rules)
	if err != nil {
		logger.Warn(ctx, "normalizer configuration rejected, using defaults", zap.Error(err))
		return defaults
	}
	if combine == CombineReplace {
		return custom
	}
	out := make([]Rule, 0, len(defaults)+len(custom))
	out = append(out, defaults...)
	return append(out, custom...)
}

// Normalize applies every rule in order.
func (n *Normalizer) Normalize(ctx context.Context, msg string) string {
	for _, rule := range n.Rules(ctx) {
		next, err := rule.Apply(msg)
		if err != nil {
			logger.Warn(ctx, "normalizer rule failed", zap.String("rule", rule.String()), zap.Error(err))
			continue
		}
		msg = next
	}
	return msg
}

// NormalizeOptional normalizes a possibly absent message.
func (n *Normalizer) NormalizeOptional(ctx context.Context, msg *string) *string {
	if msg == nil {
		return nil
	}
	out := n.Normalize(ctx, *msg)
	return &out
}
