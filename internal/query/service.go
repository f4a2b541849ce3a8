package query

import (
	"context"
	"fmt"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/template"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

type indexReader interface {
	Definition(name string) (parser.Definition, bool)
	Usages(name string) []template.Usage
	DefinitionsInFile(path string) []parser.Definition
	UsagesInFile(path string) []template.Usage
	DefinitionsRankedByRelevance(currentFile string) []parser.Definition
}

var pythonNamePattern = regexp.MustCompile(`name\s*=\s*['"]([^'"]+)['"]`)

// Service answers editor-style questions about an index.
type Service struct {
	index indexReader
}

func NewService(ix indexReader) *Service {
	return &Service{index: ix}
}

// DefinitionAt returns the declaration of the handler name under the cursor,
// or nil when there is none.
func (s *Service) DefinitionAt(ctx context.Context, path, content string, line, column int) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, _ := nameAt(path, content, line, column)
	if name == "" {
		return nil, nil
	}
	def, ok := s.index.Definition(name)
	if !ok {
		return nil, nil
	}
	loc := definitionLocation(def)
	return &loc, nil
}

// References lists the template usages of the name under the cursor. With
// includeDeclaration the definition comes first.
func (s *Service) References(ctx context.Context, path, content string, line, column int, includeDeclaration bool) ([]Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, _ := nameAt(path, content, line, column)
	if name == "" && filepath.Ext(path) == ".py" {
		for _, def := range s.index.DefinitionsInFile(path) {
			if def.Line == line {
				name = def.Name
				break
			}
		}
	}
	if name == "" {
		return nil, nil
	}

	var out []Location
	if includeDeclaration {
		if def, ok := s.index.Definition(name); ok {
			out = append(out, definitionLocation(def))
		}
	}
	for _, u := range s.index.Usages(name) {
		out = append(out, usageLocation(u))
	}
	return out, nil
}

// Hover describes the handler under the cursor, or returns nil when the
// cursor is not on a handler name.
func (s *Service) Hover(ctx context.Context, path, content string, line, column int) (*Hover, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, rng := nameAt(path, content, line, column)
	if name == "" {
		return nil, nil
	}

	def, ok := s.index.Definition(name)
	if !ok {
		return &Hover{
			Name:     name,
			Markdown: fmt.Sprintf("**Unknown hx_request:** `%s`\n\nNo definition found.", name),
			Range:    rng,
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", def.ClassName)
	fmt.Fprintf(&b, "- **Name:** `%s`\n", def.Name)
	fmt.Fprintf(&b, "- **File:** `%s:%d`\n", filepath.Base(def.FilePath), def.Line)
	fmt.Fprintf(&b, "- **Bases:** %s\n", strings.Join(def.BaseClasses, ", "))
	fmt.Fprintf(&b, "- **Usages:** %d template reference(s)\n", len(s.index.Usages(name)))
	if def.GetTemplate != "" {
		fmt.Fprintf(&b, "- **GET Template:** `%s`\n", def.GetTemplate)
	}
	if def.PostTemplate != "" {
		fmt.Fprintf(&b, "- **POST Template:** `%s`\n", def.PostTemplate)
	}
	if def.Docstring != "" {
		fmt.Fprintf(&b, "\n---\n\n%s", def.Docstring)
	}

	return &Hover{Name: name, Known: true, Markdown: b.String(), Range: rng}, nil
}

// Completions offers handler names when the cursor sits in an open tag
// argument of a template. Same-app handlers come first.
func (s *Service) Completions(ctx context.Context, path, content string, line, column int) ([]CompletionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".html" {
		return nil, nil
	}
	if !template.InCompletionContext(lineText(content, line), column) {
		return nil, nil
	}

	defs := s.index.DefinitionsRankedByRelevance(path)
	items := make([]CompletionItem, 0, len(defs))
	for _, def := range defs {
		detail := "Class: " + def.ClassName
		if def.GetTemplate != "" {
			detail += "\nTemplate: " + def.GetTemplate
		}
		items = append(items, CompletionItem{
			Label:  def.Name,
			Detail: detail,
			Documentation: fmt.Sprintf("**%s**\n\nFile: `%s`\n\nBases: %s\n\n%s",
				def.ClassName, filepath.Base(def.FilePath), strings.Join(def.BaseClasses, ", "), def.Docstring),
			InsertText: def.Name,
		})
	}
	return items, nil
}

// Diagnostics reports unknown handler names in templates and handlers that
// no template uses in Python sources.
func (s *Service) Diagnostics(ctx context.Context, path string) ([]Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Diagnostic
	switch filepath.Ext(path) {
	case ".html":
		for _, u := range s.index.UsagesInFile(path) {
			if _, ok := s.index.Definition(u.Name); ok {
				continue
			}
			loc := usageLocation(u)
			out = append(out, Diagnostic{
				Path:     loc.Path,
				Range:    loc.Range,
				Severity: SeverityWarning,
				Code:     CodeUnknownRequest,
				Source:   DiagnosticSource,
				Message:  fmt.Sprintf("Unknown hx_request: '%s'", u.Name),
			})
		}
	case ".py":
		for _, def := range s.index.DefinitionsInFile(path) {
			if len(s.index.Usages(def.Name)) > 0 {
				continue
			}
			loc := definitionLocation(def)
			out = append(out, Diagnostic{
				Path:     loc.Path,
				Range:    loc.Range,
				Severity: SeverityHint,
				Code:     CodeUnusedRequest,
				Source:   DiagnosticSource,
				Message:  fmt.Sprintf("hx_request '%s' is not used in any template", def.Name),
			})
		}
	}
	return out, nil
}

func definitionLocation(def parser.Definition) Location {
	return Location{
		Path: def.FilePath,
		Range: Range{
			Start: Position{Line: def.Line},
			End:   Position{Line: def.EndLine},
		},
	}
}

func usageLocation(u template.Usage) Location {
	return Location{
		Path: u.FilePath,
		Range: Range{
			Start: Position{Line: u.Line, Column: u.Column},
			End:   Position{Line: u.Line, Column: u.EndColumn},
		},
	}
}

// nameAt finds the handler name under a cursor. Templates use the tag
// grammar; Python files use a `name = "..."` assignment on the line.
func nameAt(path, content string, line, column int) (string, *Range) {
	switch filepath.Ext(path) {
	case ".html":
		u, ok := template.UsageAt(content, line, column)
		if !ok {
			return "", nil
		}
		rng := usageLocation(u).Range
		return u.Name, &rng
	case ".py":
		return PythonNameAt(lineText(content, line), column), nil
	}
	return "", nil
}

// PythonNameAt returns the literal of the first `name = "..."` assignment on
// a line when column falls inside it, end inclusive.
func PythonNameAt(line string, column int) string {
	m := pythonNamePattern.FindStringSubmatchIndex(line)
	if m == nil {
		return ""
	}
	start := utf8.RuneCountInString(line[:m[2]])
	end := utf8.RuneCountInString(line[:m[3]])
	if start <= column && column <= end {
		return line[m[2]:m[3]]
	}
	return ""
}

func lineText(content string, line int) string {
	lines := template.SplitLines(content)
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}
