package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DirectTags(t *testing.T) {
	content := `<div>
  <button {% hx_post 'save_note' %}>Save</button>
  <div {% hx_get "notes_count" target="#x" %}></div>
  <a {% hx_request load_more %}></a>
</div>
`
	usages := Parse(content, "/t/notes.html")
	require.Len(t, usages, 3)

	assert.Equal(t, Usage{
		Name:      "save_note",
		FilePath:  "/t/notes.html",
		Line:      2,
		Column:    22,
		EndColumn: 31,
		Tag:       TagPost,
		Match:     "{% hx_post 'save_note'",
	}, usages[0])

	assert.Equal(t, "notes_count", usages[1].Name)
	assert.Equal(t, TagGet, usages[1].Tag)
	assert.Equal(t, 3, usages[1].Line)
	assert.Equal(t, 18, usages[1].Column)

	assert.Equal(t, "load_more", usages[2].Name)
	assert.Equal(t, TagRequest, usages[2].Tag)
	assert.Equal(t, 19, usages[2].Column)
	assert.Equal(t, 28, usages[2].EndColumn)
}

func TestParse_HxVals(t *testing.T) {
	content := `<form {% hx_vals id=1 hx_request_name="edit_note" %}>` + "\n" +
		`<form {% hx_vals hx_request_name = 'plain' %}>` + "\n" +
		`<form {% hx_vals hx_request_name=bare_name %}>`

	usages := Parse(content, "f.html")
	require.Len(t, usages, 3)
	for _, u := range usages {
		assert.Equal(t, TagVals, u.Tag)
	}
	assert.Equal(t, "edit_note", usages[0].Name)
	assert.Equal(t, 39, usages[0].Column)
	assert.Equal(t, "plain", usages[1].Name)
	assert.Equal(t, "bare_name", usages[2].Name)
	assert.Equal(t, 3, usages[2].Line)
}

func TestParse_DottedNames(t *testing.T) {
	content := `{% hx_post view.handler_name %}
{% hx_get some_var.name %}
{% hx_vals hx_request_name=obj.attr %}
{% hx_post 'app.dotted' %}`

	usages := Parse(content, "f.html")
	require.Len(t, usages, 1)
	assert.Equal(t, "app.dotted", usages[0].Name)
	assert.Equal(t, 4, usages[0].Line)
}

func TestParse_MultipleTagsPerLineKeepOrder(t *testing.T) {
	line := `{% hx_vals hx_request_name='v' %}{% hx_post "a" %}{% hx_get "b" %}`
	usages := Parse(line, "f.html")
	require.Len(t, usages, 3)
	assert.Equal(t, "a", usages[0].Name)
	assert.Equal(t, "b", usages[1].Name)
	assert.Equal(t, "v", usages[2].Name)
}

func TestParse_DuplicatesKept(t *testing.T) {
	usages := Parse("{% hx_post 'x' %}\n{% hx_post 'x' %}\n", "f.html")
	require.Len(t, usages, 2)
	assert.False(t, usages[0].Equal(usages[1]))
}

func TestParse_ColumnsAreCodePoints(t *testing.T) {
	usages := Parse(`<p>héllo</p>{% hx_post 'n' %}`, "f.html")
	require.Len(t, usages, 1)
	assert.Equal(t, 24, usages[0].Column)
	assert.Equal(t, 25, usages[0].EndColumn)
}

func TestParse_NoTags(t *testing.T) {
	assert.Empty(t, Parse("<div>{% url 'home' %}</div>", "f.html"))
	assert.Empty(t, Parse("", "f.html"))
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a"}},
		{"a\r\nb\rc\n\nd", []string{"a", "b", "c", "", "d"}},
		{"a\u2028b\x0cc", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitLines(tt.in), "input %q", tt.in)
	}
}

func TestUsageAt(t *testing.T) {
	content := "<div>\n  {% hx_post 'save_note' %}\n</div>"

	u, ok := UsageAt(content, 2, 14)
	require.True(t, ok)
	assert.Equal(t, "save_note", u.Name)
	assert.Equal(t, 14, u.Column)
	assert.Equal(t, 23, u.EndColumn)

	_, ok = UsageAt(content, 2, 23)
	assert.False(t, ok, "end column is exclusive")

	_, ok = UsageAt(content, 2, 3)
	assert.False(t, ok)

	_, ok = UsageAt(content, 0, 0)
	assert.False(t, ok)

	_, ok = UsageAt(content, 9, 0)
	assert.False(t, ok)
}

func TestInCompletionContext(t *testing.T) {
	tests := []struct {
		line   string
		column int
		want   bool
	}{
		{`{% hx_post `, 11, true},
		{`{% hx_post '`, 12, true},
		{`{% hx_get "par`, 14, true},
		{`{% hx_vals hx_request_name=`, 27, true},
		{`{% hx_vals hx_request_name = "ed`, 32, true},
		{`{% hx_post 'done' %}`, 20, false},
		{`{% hx_post 'done' %}`, 14, true},
		{`{% url '`, 8, false},
		{`plain text`, 5, false},
		{`{% hx_post `, 100, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InCompletionContext(tt.line, tt.column), "%q at %d", tt.line, tt.column)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(path, []byte("{% hx_get 'a' %}"), 0o644))

	usages := ParseFile(path)
	require.Len(t, usages, 1)
	assert.Equal(t, path, usages[0].FilePath)

	bad := filepath.Join(dir, "bad.html")
	require.NoError(t, os.WriteFile(bad, []byte("{% hx_get 'a' %}\xff"), 0o644))
	assert.Empty(t, ParseFile(bad))
	assert.Empty(t, ParseFile(filepath.Join(dir, "missing.html")))
}
