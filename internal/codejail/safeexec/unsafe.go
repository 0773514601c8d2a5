package safeexec

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// UnsafePolicy decides which limit-overrides contexts may run code outside the jail.
type UnsafePolicy struct {
	patterns []*regexp2.Regexp
}

// NewUnsafePolicy compiles patterns. Each pattern must match at the start of
// the context key.
func NewUnsafePolicy(patterns []string) (*UnsafePolicy, error) {
	p := &UnsafePolicy{}
	for _, raw := range patterns {
		re, err := regexp2.Compile(`\A(?:`+raw+`)`, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("unsafe code pattern %q: %w", raw, err)
		}
		re.MatchTimeout = 100 * time.Millisecond
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// CanExecuteUnsafeCode reports whether contextKey matches a configured pattern.
func (p *UnsafePolicy) CanExecuteUnsafeCode(contextKey string) bool {
	if p == nil || contextKey == "" {
		return false
	}
	for _, re := range p.patterns {
		if ok, err := re.MatchString(contextKey); err == nil && ok {
			return true
		}
	}
	return false
}
