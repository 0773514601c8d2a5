package limits

// Resolver produces the effective limits for an optional limit-overrides context.
// Precedence, lowest first: jail built-ins, globally configured limits,
// per-context overrides.
type Resolver struct {
	builtins  Map
	defaults  Map
	overrides map[string]Map
}

// NewResolver creates a resolver. Nil builtins means Builtins().
func NewResolver(builtins, defaults Map, overrides map[string]Map) *Resolver {
	if builtins == nil {
		builtins = Builtins()
	}
	r := &Resolver{
		builtins:  builtins.Clone(),
		defaults:  Map{},
		overrides: make(map[string]Map, len(overrides)),
	}
	if defaults != nil {
		r.defaults = defaults.Clone()
	}
	for key, m := range overrides {
		r.overrides[key] = m.Clone()
	}
	return r
}

// Resolve returns a fresh map the caller may modify.
func (r *Resolver) Resolve(contextKey string) Map {
	effective := r.builtins.Clone()
	effective.Overlay(r.defaults)
	if contextKey == "" {
		return effective
	}
	if override, ok := r.overrides[contextKey]; ok {
		effective.Overlay(override)
	}
	return effective
}

// HasOverrides reports whether contextKey has its own limit map.
func (r *Resolver) HasOverrides(contextKey string) bool {
	_, ok := r.overrides[contextKey]
	return ok
}
