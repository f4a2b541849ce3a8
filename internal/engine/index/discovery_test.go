package index

import (
	"hxindex/internal/core/errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := newWorkspace(t)
	files := []string{
		"notes/hx_requests.py",
		"notes/hx_requests/views.py",
		"notes/hx_requests/nested/forms.py",
		"notes/hx_requests/__pycache__/views.py",
		"notes/hx_requests/readme.md",
		"notes/models.py",
		"notes/templates/notes/list.html",
		"notes/templates/notes/list.txt",
		"shop/template_partials/cart.html",
		"shop/pages/index.html",
		"node_modules/pkg/templates/x.html",
		".git/hx_requests.py",
		"build-cache/hx_requests.py",
	}
	for _, f := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(f)), "")
	}

	ex, err := NewExcluder(append(DefaultExcludeDirs, "build-*"))
	require.NoError(t, err)

	sources, templates := Discover(root, ex)
	rel := func(paths []string) []string {
		var out []string
		for _, p := range paths {
			r, err := filepath.Rel(root, p)
			require.NoError(t, err)
			out = append(out, filepath.ToSlash(r))
		}
		return out
	}

	assert.Equal(t, []string{
		"notes/hx_requests.py",
		"notes/hx_requests/nested/forms.py",
		"notes/hx_requests/views.py",
	}, rel(sources))
	assert.Equal(t, []string{
		"notes/templates/notes/list.html",
		"shop/template_partials/cart.html",
	}, rel(templates))
}

func TestDiscover_RootNamedLikeConvention(t *testing.T) {
	base := newWorkspace(t)
	root := filepath.Join(base, "templates")
	writeFile(t, filepath.Join(root, "page.html"), "")
	writeFile(t, filepath.Join(root, "app", "templates", "x.html"), "")

	_, templates := Discover(root, nil)
	require.Len(t, templates, 1)
	assert.Equal(t, filepath.Join(root, "app", "templates", "x.html"), templates[0])
}

func TestDiscover_MissingRoot(t *testing.T) {
	sources, templates := Discover(filepath.Join(newWorkspace(t), "missing"), nil)
	assert.Empty(t, sources)
	assert.Empty(t, templates)
}

func TestNewExcluder_InvalidPattern(t *testing.T) {
	_, err := NewExcluder([]string{"[unclosed"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestTracked(t *testing.T) {
	assert.True(t, Tracked("a/hx_requests.py"))
	assert.True(t, Tracked("a/templates/x.html"))
	assert.False(t, Tracked("a/README.md"))
}

func TestClassify(t *testing.T) {
	root := filepath.FromSlash("/ws")
	cases := []struct {
		path         string
		source, tmpl bool
	}{
		{"/ws/notes/hx_requests.py", true, false},
		{"/ws/notes/hx_requests/views.py", true, false},
		{"/ws/notes/hx_requests/__pycache__/views.py", false, false},
		{"/ws/notes/models.py", false, false},
		{"/ws/notes/templates/a/b.html", false, true},
		{"/ws/notes/template_partials/b.html", false, true},
		{"/ws/notes/pages/b.html", false, false},
		{"/other/hx_requests.py", false, false},
	}
	for _, tc := range cases {
		source, tmpl := Classify(root, filepath.FromSlash(tc.path))
		assert.Equal(t, tc.source, source, tc.path)
		assert.Equal(t, tc.tmpl, tmpl, tc.path)
	}
}
