package pathpattern_test

import (
	"testing"

	"github.com/advdv/bedge/internal/pathpattern"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileErrors(t *testing.T) {
	for _, tt := range []struct {
		pattern string
		msg     string
	}{
		{"", "empty pattern"},
		{"users", "must begin with a slash"},
		{"/a//b", "empty segment at offset 3"},
		{"//", "empty segment at offset 1"},
		{"/a//", "empty segment"},
		{"/a/:", "unnamed capture"},
		{"/a/{}", "unnamed capture"},
		{"/:id/x/:id", `repeats capture "id"`},
		{"/{id}/:id", `repeats capture "id"`},
	} {
		t.Run(tt.pattern, func(t *testing.T) {
			_, err := pathpattern.Compile(tt.pattern)
			require.Error(t, err)
			require.True(t, errors.Is(err, pathpattern.ErrInvalidPattern))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMatch(t *testing.T) {
	for _, tt := range []struct {
		pattern string
		path    string
		ok      bool
		params  map[string]string
	}{
		{"/", "/", true, nil},
		{"/", "/a", false, nil},
		{"/users", "/users", true, nil},
		{"/users", "/users/", true, nil},
		{"/users/", "/users", true, nil},
		{"/users", "/Users", false, nil},
		{"/users/:id", "/users/42", true, map[string]string{"id": "42"}},
		{"/users/{id}", "/users/42", true, map[string]string{"id": "42"}},
		{"/users/:id", "/users/42/", true, map[string]string{"id": "42"}},
		{"/users/:id", "/users", false, nil},
		{"/users/:id", "/users//", false, nil},
		{"/users/:id", "/users/42/posts", false, nil},
		{"/hello/:first/:last", "/hello/ada/lovelace", true, map[string]string{"first": "ada", "last": "lovelace"}},
		{"/a/:x/c", "/a/b/d", false, nil},
		{"/", "//", false, nil},
		{"/a/b", "/a//b", false, nil},
		{"/users/:id", "/users/a%2Fb", true, map[string]string{"id": "a/b"}},
		{"/users/:id", "/users/a%20b", true, map[string]string{"id": "a b"}},
		{"/users/:id", "/users/a%2", false, nil},
		{"/a b/:id", "/a%20b/1", true, map[string]string{"id": "1"}},
		{"/a", "", false, nil},
		{"/a", "a", false, nil},
	} {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			pat := pathpattern.MustCompile(tt.pattern)
			params, ok := pat.Match(tt.path)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "/", pathpattern.MustCompile("/").Canonical())
	assert.Equal(t, "/users/{id}", pathpattern.MustCompile("/users/:id/").Canonical())
	assert.Equal(t,
		pathpattern.MustCompile("/users/{id}").Canonical(),
		pathpattern.MustCompile("/users/:id").Canonical())
	assert.Equal(t, []string{"a", "b"}, pathpattern.MustCompile("/x/:a/{b}").Names())
}

func TestBuild(t *testing.T) {
	res, err := pathpattern.Build(pathpattern.MustCompile("/blog/:id/comments/{cid}"), "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "/blog/1/comments/2", res)

	res, err = pathpattern.Build(pathpattern.MustCompile("/"))
	require.NoError(t, err)
	assert.Equal(t, "/", res)

	_, err = pathpattern.Build(pathpattern.MustCompile("/blog/:id"))
	require.ErrorContains(t, err, "not enough values")

	_, err = pathpattern.Build(pathpattern.MustCompile("/blog/:id"), "1", "2")
	require.ErrorContains(t, err, "too many values")

	_, err = pathpattern.Build(pathpattern.MustCompile("/blog/:id"), "a/b")
	require.ErrorContains(t, err, "single non-empty segment")
}

func TestMustCompilePanics(t *testing.T) {
	require.PanicsWithValue(t, "pathpattern: empty pattern: invalid pattern", func() {
		pathpattern.MustCompile("")
	})
}
