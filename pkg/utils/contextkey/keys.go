package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	// Slug carries the caller-supplied identifier of the code being run.
	Slug key = "codejail_slug"
	// LimitOverridesContext carries the tenant key used to pick resource limits.
	LimitOverridesContext key = "codejail_limit_overrides_context"
)
