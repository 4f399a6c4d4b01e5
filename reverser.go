package bedge

import (
	"github.com/advdv/bedge/internal/pathpattern"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Reverser keeps track of named patterns and allows building URLs.
type Reverser struct {
	pats map[string]*pathpattern.Pattern
}

// NewReverser inits the reverser.
func NewReverser() *Reverser {
	return &Reverser{make(map[string]*pathpattern.Pattern)}
}

// Reverse reverses the named pattern into a url. Values fill the captures in order.
func (r Reverser) Reverse(name string, vals ...string) (string, error) {
	pat, ok := r.pats[name]
	if !ok {
		return "", errors.Newf("no pattern named: %q, got: %v", name, lo.Keys(r.pats))
	}

	res, err := pathpattern.Build(pat, vals...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build %q", name)
	}

	return res, nil
}

// Named is a convenience method that panics if naming the pattern fails.
func (r Reverser) Named(name, str string) string {
	str, err := r.NamedPattern(name, str)
	if err != nil {
		panic("bedge: " + err.Error())
	}

	return str
}

// NamedPattern will parse 'str' as a path pattern while returning it as well.
func (r Reverser) NamedPattern(name, str string) (string, error) {
	pat, err := pathpattern.Compile(str)
	if err != nil {
		return str, errors.Wrap(err, "failed to parse pattern")
	}

	return str, r.add(name, pat)
}

func (r Reverser) add(name string, pat *pathpattern.Pattern) error {
	if _, exists := r.pats[name]; exists {
		return errors.Newf("pattern with name %q already exists", name)
	}

	r.pats[name] = pat

	return nil
}
