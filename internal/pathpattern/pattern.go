// Package pathpattern compiles route patterns into segment lists and matches request paths against them.
//
// A pattern is an absolute path whose segments are either literals or named captures. A capture is
// written as ":name" or "{name}" and matches exactly one non-empty path segment. Matching is purely
// structural: segment counts must be equal, literals compare by exact string equality with the
// unescaped path segment.
//
// Both patterns and request paths are normalized the same way before comparison: a single trailing
// slash is collapsed, so "/users/" and "/users" are equivalent. The root "/" has zero segments. Any
// other empty segment makes a pattern invalid and a path unmatchable.
package pathpattern

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidPattern is returned (wrapped) for any pattern that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid pattern")

type segment struct {
	lit     string
	capture bool
}

// Pattern is a compiled route pattern. It is immutable and safe for concurrent use.
type Pattern struct {
	str  string
	segs []segment
}

// Compile parses s into a Pattern.
func Compile(s string) (*Pattern, error) {
	if s == "" {
		return nil, errors.Wrap(ErrInvalidPattern, "empty pattern")
	}

	if s[0] != '/' {
		return nil, errors.Wrapf(ErrInvalidPattern, "pattern %q must begin with a slash", s)
	}

	if i := strings.Index(s, "//"); i >= 0 {
		return nil, errors.Wrapf(ErrInvalidPattern, "pattern %q has an empty segment at offset %d", s, i+1)
	}

	parts := split(s)
	pat := &Pattern{str: s, segs: make([]segment, 0, len(parts))}
	seen := make(map[string]struct{}, len(parts))

	for i, part := range parts {
		name, ok := captureName(part)
		if !ok {
			pat.segs = append(pat.segs, segment{lit: part})
			continue
		}

		if name == "" {
			return nil, errors.Wrapf(ErrInvalidPattern, "pattern %q has an unnamed capture at position %d", s, i)
		}

		if _, dup := seen[name]; dup {
			return nil, errors.Wrapf(ErrInvalidPattern, "pattern %q repeats capture %q", s, name)
		}

		seen[name] = struct{}{}
		pat.segs = append(pat.segs, segment{lit: name, capture: true})
	}

	return pat, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(s string) *Pattern {
	p, err := Compile(s)
	if err != nil {
		panic("pathpattern: " + err.Error())
	}

	return p
}

// String returns the pattern as it was compiled.
func (p *Pattern) String() string { return p.str }

// Canonical returns the normalized form of the pattern with all captures written as "{name}". Two
// patterns with the same canonical form match exactly the same paths with the same bindings.
func (p *Pattern) Canonical() string {
	if len(p.segs) == 0 {
		return "/"
	}

	var b strings.Builder
	for _, seg := range p.segs {
		b.WriteByte('/')
		if seg.capture {
			b.WriteString("{" + seg.lit + "}")
			continue
		}

		b.WriteString(seg.lit)
	}

	return b.String()
}

// Names returns the capture names in the order they appear.
func (p *Pattern) Names() []string {
	var names []string
	for _, seg := range p.segs {
		if seg.capture {
			names = append(names, seg.lit)
		}
	}

	return names
}

// Match reports whether path matches the pattern and returns the bound captures. Path is in its
// escaped form, as sent on the wire: it is split on literal slashes first and each segment is
// unescaped afterwards, so an escaped slash stays inside its segment. The returned map is nil for
// patterns without captures.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	if path == "" || path[0] != '/' || strings.Contains(path, "//") {
		return nil, false
	}

	parts := split(path)
	if len(parts) != len(p.segs) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segs {
		actual, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}

		if !seg.capture {
			if seg.lit != actual {
				return nil, false
			}

			continue
		}

		if actual == "" {
			return nil, false
		}

		if params == nil {
			params = make(map[string]string, len(p.segs)-i)
		}

		params[seg.lit] = actual
	}

	return params, true
}

// Build substitutes vals for the captures of p, in order, and returns the resulting path.
func Build(p *Pattern, vals ...string) (string, error) {
	if len(p.segs) == 0 {
		if len(vals) > 0 {
			return "", errors.Newf("too many values: pattern %q has no captures", p.str)
		}

		return "/", nil
	}

	var b strings.Builder
	next := 0
	for _, seg := range p.segs {
		b.WriteByte('/')
		if !seg.capture {
			b.WriteString(seg.lit)
			continue
		}

		if next >= len(vals) {
			return "", errors.Newf("not enough values for pattern %q: got %d", p.str, len(vals))
		}

		if vals[next] == "" || strings.Contains(vals[next], "/") {
			return "", errors.Newf("value %q for capture %q must be a single non-empty segment", vals[next], seg.lit)
		}

		b.WriteString(vals[next])
		next++
	}

	if next != len(vals) {
		return "", errors.Newf("too many values for pattern %q: got %d, want %d", p.str, len(vals), next)
	}

	return b.String(), nil
}

// split breaks an absolute path into segments after collapsing one trailing slash.
func split(s string) []string {
	s = s[1:]
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return nil
	}

	return strings.Split(s, "/")
}

func captureName(part string) (string, bool) {
	switch {
	case part[0] == ':':
		return part[1:], true
	case len(part) >= 2 && part[0] == '{' && part[len(part)-1] == '}':
		return part[1 : len(part)-1], true
	default:
		return "", false
	}
}
