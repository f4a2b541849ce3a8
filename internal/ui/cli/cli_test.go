package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"hxindex/internal/data/snapshot"
	"hxindex/internal/engine/index"
	"hxindex/internal/query"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlersSource = `from hx_requests.hx_requests import BaseHxRequest


class NotesCount(BaseHxRequest):
    """Counts the notes."""

    name = "notes_count"
    GET_template = "notes/count.html"


class Orphan(BaseHxRequest):
    name = "orphan"
`

const listTemplate = `<div {% hx_get 'notes_count' %}></div>
<div {% hx_post "missing" %}></div>
`

type workspace struct {
	root     string
	source   string
	template string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	ws := workspace{
		root:     root,
		source:   filepath.Join(root, "notes", "hx_requests.py"),
		template: filepath.Join(root, "notes", "templates", "notes", "list.html"),
	}
	for path, content := range map[string]string{ws.source: handlersSource, ws.template: listTemplate} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return ws
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCheck_Text(t *testing.T) {
	ws := newWorkspace(t)

	code, out, _ := run(t, "check", ws.root)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Indexed 2 definitions and 2 usages (1 sources, 1 templates)")
	assert.Contains(t, out, "undefined: "+filepath.Join("notes", "templates", "notes", "list.html")+":2:17 hx_post 'missing'")
	assert.Contains(t, out, "unused: "+filepath.Join("notes", "hx_requests.py")+":11 orphan (Orphan)")
}

func TestCheck_StrictExitCode(t *testing.T) {
	ws := newWorkspace(t)

	code, _, _ := run(t, "check", "--strict", ws.root)
	assert.Equal(t, 2, code)

	require.NoError(t, os.WriteFile(ws.template, []byte(`{% hx_get 'notes_count' %}`), 0o644))
	code, _, _ = run(t, "check", "--strict", ws.root)
	assert.Equal(t, 0, code)
}

func TestCheck_JSON(t *testing.T) {
	ws := newWorkspace(t)

	code, out, _ := run(t, "--format", "json", "check", ws.root)
	require.Equal(t, 0, code)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Undefined, 1)
	assert.Equal(t, "missing", report.Undefined[0].Name)
	require.Len(t, report.Unused, 1)
	assert.Equal(t, "orphan", report.Unused[0].Name)
	assert.Equal(t, 2, report.Stats.Definitions)
}

func TestCheck_YAML(t *testing.T) {
	ws := newWorkspace(t)

	code, out, _ := run(t, "--format", "yaml", "check", ws.root)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "undefined:")
	assert.Contains(t, out, "name: missing")
}

func TestQuery(t *testing.T) {
	ws := newWorkspace(t)

	code, out, _ := run(t, "--format", "json", "query", ws.root, "--names")
	require.Equal(t, 0, code)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Equal(t, []string{"notes_count", "orphan"}, names)

	code, out, _ = run(t, "query", ws.root, "--definition", "notes_count")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "notes_count (NotesCount)")
	assert.Contains(t, out, "GET:   notes/count.html")

	code, out, _ = run(t, "query", ws.root, "--usages", "notes_count")
	require.Equal(t, 0, code)
	assert.Contains(t, out, ":1:16 {% hx_get 'notes_count'\n")

	code, out, _ = run(t, "query", ws.root, "--ranked", ws.template)
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "notes_count\t"), out)
}

func TestQuery_Errors(t *testing.T) {
	ws := newWorkspace(t)

	code, _, errOut := run(t, "query", ws.root, "--definition", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "NOT_FOUND")

	code, _, _ = run(t, "query", ws.root)
	assert.Equal(t, 1, code, "a query mode flag is required")

	code, _, _ = run(t, "query", ws.root, "--names", "--usages", "x")
	assert.Equal(t, 1, code, "query modes are exclusive")
}

func TestLookup(t *testing.T) {
	ws := newWorkspace(t)

	code, out, _ := run(t, "lookup", "hover", ws.template+":1:18", ws.root)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "**NotesCount**")

	code, out, _ = run(t, "lookup", "definition", ws.template+":1:18", ws.root)
	require.Equal(t, 0, code)
	assert.Equal(t, ws.source+":4:0-8:0\n", out)

	code, out, _ = run(t, "--format", "json", "lookup", "diagnostics", ws.template, ws.root)
	require.Equal(t, 0, code)
	var diags []query.Diagnostic
	require.NoError(t, json.Unmarshal([]byte(out), &diags))
	require.Len(t, diags, 1)
	assert.Equal(t, "Unknown hx_request: 'missing'", diags[0].Message)

	code, _, errOut := run(t, "lookup", "hover", ws.template, ws.root)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "FILE:LINE:COL")

	code, _, _ = run(t, "lookup", "rename", ws.template+":1:1", ws.root)
	assert.Equal(t, 1, code)
}

func TestParseTarget(t *testing.T) {
	path, line, col, err := parseTarget("/a/b:c.html:3:7", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/a/b:c.html"), path)
	assert.Equal(t, 3, line)
	assert.Equal(t, 7, col)

	_, _, _, err = parseTarget("/a/b.html:x:7", true)
	assert.Error(t, err)

	path, line, _, err = parseTarget("/a/b.html", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/a/b.html"), path)
	assert.Zero(t, line)
}

func TestSnapshot(t *testing.T) {
	ws := newWorkspace(t)
	db := filepath.Join(t.TempDir(), "snap.db")

	code, out, _ := run(t, "--format", "json", "snapshot", ws.root, "--out", db)
	require.Equal(t, 0, code)
	var saved snapshot.Run
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	assert.Equal(t, 2, saved.Definitions)
	assert.Equal(t, 1, saved.UndefinedCount)

	code, out, _ = run(t, "--format", "json", "snapshot", "--out", db, "--list")
	require.Equal(t, 0, code)
	var runs []snapshot.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, saved.ID, runs[0].ID)

	code, out, _ = run(t, "--format", "json", "snapshot", "--out", db, "--show", saved.ID)
	require.Equal(t, 0, code)
	var contents snapshotContents
	require.NoError(t, json.Unmarshal([]byte(out), &contents))
	assert.Len(t, contents.Definitions, 2)
	assert.Len(t, contents.Usages, 2)

	code, _, errOut := run(t, "snapshot", "--out", db, "--show", "unknown")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "NOT_FOUND")
}

func TestVersionAndFormat(t *testing.T) {
	code, out, _ := run(t, "version")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "hxindex "))

	code, _, errOut := run(t, "--format", "xml", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unsupported format")
}

func TestMissingRoot(t *testing.T) {
	code, _, errOut := run(t, "check", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "workspace root is not a directory")
}

func TestExplicitConfigMustExist(t *testing.T) {
	code, _, errOut := run(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "config file not found")
}

func TestApplyChanges(t *testing.T) {
	ws := newWorkspace(t)
	ix := index.New(index.WithWorkspaceRoot(ws.root))
	ix.BuildFull(context.Background(), "")
	svc := query.NewService(ix)
	require.Len(t, ix.UndefinedUsages(), 1)

	require.NoError(t, os.WriteFile(ws.template, []byte(`{% hx_get 'orphan' %}`), 0o644))
	applyChanges(context.Background(), ix, svc, []string{ws.template})
	assert.Empty(t, ix.UndefinedUsages())
	assert.Len(t, ix.Usages("orphan"), 1)

	require.NoError(t, os.Remove(ws.source))
	applyChanges(context.Background(), ix, svc, []string{ws.source})
	assert.Empty(t, ix.Names())
	assert.Len(t, ix.UndefinedUsages(), 1)
}

func TestObservabilityHandler(t *testing.T) {
	ws := newWorkspace(t)
	ix := index.New()
	handler := NewObservabilityServer("127.0.0.1:0", ix).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ix.BuildFull(context.Background(), ws.root)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, 2, status.Index.Definitions)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hxindex_definitions")
}
