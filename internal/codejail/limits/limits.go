// Package limits defines jail resource limits and resolves them per context.
package limits

import (
	"fmt"
	"sort"
	"strings"
)

// Kind names one resource limit enforced by the jail.
type Kind string

const (
	// CPU is the CPU time in seconds.
	CPU Kind = "CPU"
	// Realtime is the wall clock time in seconds.
	Realtime Kind = "REALTIME"
	// VMem is the address space size in bytes.
	VMem Kind = "VMEM"
	// FSize is the largest file the code may write, in bytes.
	FSize Kind = "FSIZE"
	// NProc is the number of processes the sandbox user may own.
	NProc Kind = "NPROC"
	// Proxy enables the jail proxy process when non-zero.
	Proxy Kind = "PROXY"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{CPU, Realtime, VMem, FSize, NProc, Proxy}

// ParseKind converts a configuration key into a Kind. Matching is case-insensitive.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown limit kind %q", raw)
}

// Map holds limit values by kind. Zero disables a limit.
type Map map[Kind]int64

// Builtins mirrors the jail's own defaults, used when nothing else is configured.
func Builtins() Map {
	return Map{
		CPU:      1,
		Realtime: 1,
		VMem:     0,
		FSize:    0,
		NProc:    15,
		Proxy:    0,
	}
}

// Get returns the limit for kind and whether it is present.
func (m Map) Get(kind Kind) (int64, bool) {
	v, ok := m[kind]
	return v, ok
}

// Clone returns an independent copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Overlay writes every entry of src over m.
func (m Map) Overlay(src Map) {
	for k, v := range src {
		m[k] = v
	}
}

func (m Map) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[Kind(k)]))
	}
	return strings.Join(parts, ",")
}

// ParseMap converts a raw configuration mapping into a Map.
func ParseMap(raw map[string]int64) (Map, error) {
	out := make(Map, len(raw))
	for key, value := range raw {
		kind, err := ParseKind(key)
		if err != nil {
			return nil, err
		}
		if value < 0 {
			return nil, fmt.Errorf("limit %s must not be negative: %d", kind, value)
		}
		out[kind] = value
	}
	return out, nil
}
