// Package emsg normalizes executor error messages before they are compared.
//
// Local and remote jails report the same failure with incidental differences:
// sandbox directory names, interpreter version paths, line numbers and the
// extra decoration newer interpreters add to tracebacks. Rules rewrite those
// parts so only meaningful differences remain.
package emsg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	appErr "capajail/pkg/errors"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds every rule so a host-supplied pattern cannot hang a request.
const matchTimeout = 250 * time.Millisecond

// RuleConfig is a host-supplied rule. Search is a Python-style regular expression,
// Replace a Python-style template (\1, \g<name>).
type RuleConfig struct {
	Search  string `yaml:"search" json:"search"`
	Replace string `yaml:"replace" json:"replace"`
}

// Rule is a compiled normalizer rule.
type Rule struct {
	Search  *regexp2.Regexp
	Replace string
	source  RuleConfig
}

// Apply rewrites every match in s.
func (r Rule) Apply(s string) (string, error) {
	return r.Search.Replace(s, r.Replace, -1, -1)
}

// String returns the rule as configured.
func (r Rule) String() string {
	return fmt.Sprintf("%q -> %q", r.source.Search, r.source.Replace)
}

// DefaultRules run before (or instead of) host rules.
var DefaultRules = []RuleConfig{
	{
		// Sandbox directories carry a random suffix.
		Search:  `/codejail-[0-9a-zA-Z_]+`,
		Replace: `/codejail-<SANDBOX_DIR_NAME>`,
	},
	{
		Search:  `/tmp/tmp[0-9a-zA-Z_]{6,}`,
		Replace: `/tmp/tmp<TMP_DIR_NAME>`,
	},
	{
		Search:  `python3\.[0-9]+`,
		Replace: `python3.XX`,
	},
	{
		Search:  `File "[^"\n]*/(site|dist)-packages/`,
		Replace: `File "<\1-packages>/`,
	},
	{
		Search:  `, line [0-9]+`,
		Replace: `, line XXX`,
	},
	{
		// Caret and tilde underlines (Python 3.11+).
		Search:  `(?m)^[ \t]*[~^]+[ \t]*(?:\r?\n|\Z)`,
		Replace: ``,
	},
	{
		// Comprehension frames that inlined comprehensions (Python 3.12+) no longer show.
		Search:  `(?m)^  File "[^"\n]*", line (?:[0-9]+|XXX), in <(?:listcomp|dictcomp|setcomp|genexpr)>\r?\n(?:    [^\n]*\r?\n)?`,
		Replace: ``,
	},
}

// CompileRules compiles and self-tests configs in order.
func CompileRules(configs []RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	for i, cfg := range configs {
		rule, err := compileRule(cfg)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.NormalizerMisconfigured,
				"normalizer rule %d (%q) is invalid: %v", i, cfg.Search, err).
				WithDetail("index", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(cfg RuleConfig) (Rule, error) {
	if cfg.Search == "" {
		return Rule{}, fmt.Errorf("search pattern is empty")
	}
	re, err := regexp2.Compile(translatePattern(cfg.Search), regexp2.None)
	if err != nil {
		return Rule{}, fmt.Errorf("compile search: %w", err)
	}
	re.MatchTimeout = matchTimeout

	replace, refs, err := translateTemplate(cfg.Replace)
	if err != nil {
		return Rule{}, fmt.Errorf("replace template: %w", err)
	}
	known := make(map[string]struct{})
	for _, name := range re.GetGroupNames() {
		known[name] = struct{}{}
	}
	for _, num := range re.GetGroupNumbers() {
		known[strconv.Itoa(num)] = struct{}{}
	}
	for _, ref := range refs {
		if _, ok := known[ref]; !ok {
			return Rule{}, fmt.Errorf("replace template references unknown group %q", ref)
		}
	}

	rule := Rule{Search: re, Replace: replace, source: cfg}
	if _, err := rule.Apply("dummy"); err != nil {
		return Rule{}, fmt.Errorf("self-test: %w", err)
	}
	return rule, nil
}

// translatePattern rewrites Python-only named-group syntax.
func translatePattern(p string) string {
	p = strings.ReplaceAll(p, "(?P<", "(?<")
	for {
		i := strings.Index(p, "(?P=")
		if i < 0 {
			return p
		}
		j := strings.IndexByte(p[i:], ')')
		if j < 0 {
			return p
		}
		name := p[i+4 : i+j]
		p = p[:i] + `\k<` + name + `>` + p[i+j+1:]
	}
}

// translateTemplate converts a Python replacement template into regexp2 syntax
// and returns the groups it references.
func translateTemplate(tpl string) (string, []string, error) {
	var b strings.Builder
	var refs []string
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c != '\\':
			b.WriteByte(c)
		case i+1 >= len(tpl):
			return "", nil, fmt.Errorf("bad escape (end of template)")
		default:
			i++
			next := tpl[i]
			switch {
			case next >= '0' && next <= '9':
				j := i
				for j < len(tpl) && j < i+2 && tpl[j] >= '0' && tpl[j] <= '9' {
					j++
				}
				ref := tpl[i:j]
				refs = append(refs, strings.TrimLeft(ref, "0"))
				if refs[len(refs)-1] == "" {
					refs[len(refs)-1] = "0"
				}
				b.WriteString("${" + refs[len(refs)-1] + "}")
				i = j - 1
			case next == 'g':
				if i+1 >= len(tpl) || tpl[i+1] != '<' {
					return "", nil, fmt.Errorf("missing < after \\g")
				}
				end := strings.IndexByte(tpl[i+1:], '>')
				if end < 0 {
					return "", nil, fmt.Errorf("missing > in group reference")
				}
				name := tpl[i+2 : i+1+end]
				if name == "" {
					return "", nil, fmt.Errorf("empty group name")
				}
				refs = append(refs, name)
				b.WriteString("${" + name + "}")
				i = i + 1 + end
			case next == 'n':
				b.WriteByte('\n')
			case next == 't':
				b.WriteByte('\t')
			case next == 'r':
				b.WriteByte('\r')
			case next == '\\':
				b.WriteByte('\\')
			case (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z'):
				return "", nil, fmt.Errorf("bad escape \\%c", next)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
		}
	}
	return b.String(), refs, nil
}
