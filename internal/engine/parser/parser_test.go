package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, code string) *SourceFile {
	t.Helper()
	return New().ParseSource("/app/hx_requests.py", []byte(code))
}

func TestParseSource_BasicDefinition(t *testing.T) {
	code := `from hx_requests.hx_requests import BaseHxRequest


class NotesCount(BaseHxRequest):
    """Counts notes."""

    name = "notes_count"
    GET_template = "notes/count.html"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)

	def := file.Definitions[0]
	assert.Equal(t, "notes_count", def.Name)
	assert.Equal(t, "NotesCount", def.ClassName)
	assert.Equal(t, "/app/hx_requests.py", def.FilePath)
	assert.Equal(t, 4, def.Line)
	assert.Equal(t, 8, def.EndLine)
	assert.Equal(t, 0, def.Column)
	assert.Equal(t, []string{"BaseHxRequest"}, def.BaseClasses)
	assert.Equal(t, []BaseClassInfo{{Name: "BaseHxRequest"}}, def.BaseClassInfo)
	assert.Equal(t, "Counts notes.", def.Docstring)
	assert.Equal(t, "notes/count.html", def.GetTemplate)
	assert.Empty(t, def.PostTemplate)
}

func TestParseSource_BaseExpressions(t *testing.T) {
	code := `class A(hx.mixins.FormHxRequest, Generic[T], pkg.Other[T], metaclass=Meta):
    name = "a"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, []string{"FormHxRequest", "Generic"}, file.Definitions[0].BaseClasses)
}

func TestParseSource_HandlerSuffixes(t *testing.T) {
	code := `class A(ModalHxMixin):
    name = "a"

class B(TabsRouter):
    name = "b"

class C(SomeHx):
    name = "c"

class D(View):
    name = "d"

class E(BaseHxRequest):
    pass
`
	file := parse(t, code)
	var names []string
	for _, def := range file.Definitions {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestParseSource_NameAssignmentForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"plain", `name = "x"`, "x", true},
		{"single quotes", `name = 'x'`, "x", true},
		{"annotated", `name: str = "x"`, "x", true},
		{"chained", `label = name = "x"`, "x", true},
		{"concatenated", `name = "ab" 'cd'`, "abcd", true},
		{"parenthesized", `name = ("x")`, "x", true},
		{"escapes", `name = "a\tb\x41é"`, "a\tbAé", true},
		{"raw", `name = r"a\tb"`, "a\\tb", true},
		{"named escape", `name = "d\N{EM DASH}"`, "d\u2014", true},
		{"named escape any case", `name = "\N{latin small letter a}b"`, "ab", true},
		{"named ideograph", `name = "\N{CJK UNIFIED IDEOGRAPH-4E00}"`, "\u4e00", true},
		{"raw keeps named escape", `name = r"\N{EM DASH}"`, `\N{EM DASH}`, true},
		{"unknown named escape", `name = "\N{NO SUCH CHARACTER}"`, "", false},
		{"unterminated named escape", `name = "\N{EM DASH"`, "", false},
		{"triple", `name = """x"""`, "x", true},
		{"bytes", `name = b"x"`, "", false},
		{"fstring", `name = f"x"`, "", false},
		{"call", `name = make_name()`, "", false},
		{"annotation only", `name: str`, "", false},
		{"tuple target", `name, other = "x", "y"`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := parse(t, "class A(BaseHxRequest):\n    "+tt.body+"\n")
			if !tt.ok {
				assert.Empty(t, file.Definitions)
				return
			}
			require.Len(t, file.Definitions, 1)
			assert.Equal(t, tt.want, file.Definitions[0].Name)
		})
	}
}

func TestParseSource_NonLiteralNameKeepsScanning(t *testing.T) {
	code := `class A(BaseHxRequest):
    name = compute()
    name = "later"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, "later", file.Definitions[0].Name)
}

func TestParseSource_NestedAttributeIgnored(t *testing.T) {
	code := `class A(BaseHxRequest):
    def setup(self):
        name = "inner"
`
	assert.Empty(t, parse(t, code).Definitions)
}

func TestParseSource_NestedClasses(t *testing.T) {
	code := `class Outer(BaseHxRequest):
    name = "outer"

    class Inner(BaseHxRequest):
        name = "inner"


def factory():
    class Local(BaseHxRequest):
        name = "local"
    return Local
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 3)
	assert.Equal(t, "outer", file.Definitions[0].Name)
	assert.Equal(t, "inner", file.Definitions[1].Name)
	assert.Equal(t, 4, file.Definitions[1].Line)
	assert.Equal(t, 4, file.Definitions[1].Column)
	assert.Equal(t, "local", file.Definitions[2].Name)
}

func TestParseSource_Docstring(t *testing.T) {
	code := `class A(BaseHxRequest):
    # leading comment
    """
    First line.

        Indented detail.
    """
    name = "a"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, "First line.\n\n    Indented detail.", file.Definitions[0].Docstring)

	file = parse(t, "class B(BaseHxRequest):\n    name = \"b\"\n    \"\"\"Not a docstring.\"\"\"\n")
	require.Len(t, file.Definitions, 1)
	assert.Empty(t, file.Definitions[0].Docstring)
}

func TestParseSource_Templates(t *testing.T) {
	code := `class A(FormHxRequest):
    name = "a"
    GET_template = "a/get.html"
    POST_template = "a/post.html"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, "a/get.html", file.Definitions[0].GetTemplate)
	assert.Equal(t, "a/post.html", file.Definitions[0].PostTemplate)
}

func TestParseSource_Imports(t *testing.T) {
	code := `import os
from hx_requests.hx_requests import BaseHxRequest
from core.base import Base as CoreBase, Other
from .views import (
    ViewHx,
    FormHx as LocalForm,
)
from .. import sibling
from pkg import *
`
	file := parse(t, code)
	assert.Equal(t, map[string]string{
		"BaseHxRequest": "hx_requests.hx_requests",
		"CoreBase":      "core.base",
		"Other":         "core.base",
		"ViewHx":        ".views",
		"LocalForm":     ".views",
		"sibling":       "..",
	}, file.Imports)
}

func TestParseSource_ClassTableLastWins(t *testing.T) {
	code := `class Base:
    pass


class Other:
    pass


class Base:
    pass
`
	file := parse(t, code)
	assert.Equal(t, map[string]int{"Base": 9, "Other": 5}, file.Classes)
}

func TestParseSource_ClassTableNestedShadowsTopLevel(t *testing.T) {
	code := `class Outer:
    class Base:
        pass


class Base:
    pass
`
	file := parse(t, code)
	assert.Equal(t, 2, file.Classes["Base"])
	assert.Equal(t, 1, file.Classes["Outer"])
}

func TestParseSource_ClassTableBranchDepth(t *testing.T) {
	code := `if A:
    class Base:
        pass
elif B:
    class Base:
        pass
else:
    class Base:
        pass
class Base:
    pass
try:
    pass
except ImportError:
    class Fallback:
        pass
class Fallback:
    pass
`
	file := parse(t, code)
	assert.Equal(t, 8, file.Classes["Base"], "else of an elif chain nests deepest and comes last")
	assert.Equal(t, 15, file.Classes["Fallback"])
}

func TestParseSource_DecoratedClass(t *testing.T) {
	code := `@register
class A(BaseHxRequest):
    name = "a"
`
	file := parse(t, code)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, 2, file.Definitions[0].Line)
	assert.Equal(t, 2, file.Classes["A"])
}

func TestParseSource_SyntaxErrorYieldsEmpty(t *testing.T) {
	code := `class A(BaseHxRequest):
    name = "a"

def broken(:
`
	file := parse(t, code)
	assert.Empty(t, file.Definitions)
	assert.Empty(t, file.Imports)
	assert.Empty(t, file.Classes)
}

func TestParseSource_InvalidUTF8YieldsEmpty(t *testing.T) {
	file := New().ParseSource("x.py", []byte("class A(BaseHxRequest):\n    name = \"\xff\"\n"))
	assert.Empty(t, file.Definitions)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hx_requests.py")
	require.NoError(t, os.WriteFile(path, []byte("class A(BaseHxRequest):\n    name = \"a\"\n"), 0o644))

	file := New().ParseFile(path)
	require.Len(t, file.Definitions, 1)
	assert.Equal(t, path, file.Definitions[0].FilePath)

	missing := New().ParseFile(filepath.Join(dir, "missing.py"))
	assert.Empty(t, missing.Definitions)
	assert.NotNil(t, missing.Classes)
}

func TestDefinitionEqualAndClone(t *testing.T) {
	a := Definition{Name: "a", ClassName: "A", FilePath: "/x.py", Line: 3, BaseClasses: []string{"Hx"}}
	b := a.Clone()
	b.ClassName = "Renamed"
	b.BaseClasses[0] = "Changed"

	assert.True(t, a.Equal(b))
	assert.Equal(t, "Hx", a.BaseClasses[0])
	assert.Equal(t, "a@/x.py:3", a.Key())
	assert.False(t, BaseClassInfo{Name: "Hx"}.Resolved())
}
