package template

import (
	"hxindex/internal/shared/observability"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

type TagKind string

const (
	TagPost    TagKind = "hx_post"
	TagGet     TagKind = "hx_get"
	TagRequest TagKind = "hx_request"
	TagVals    TagKind = "hx_vals"
)

// Usage is one reference to a handler name inside a template tag.
type Usage struct {
	Name      string  `json:"name" yaml:"name"`
	FilePath  string  `json:"file_path" yaml:"file_path"`
	Line      int     `json:"line" yaml:"line"`
	Column    int     `json:"column" yaml:"column"`
	EndColumn int     `json:"end_column" yaml:"end_column"`
	Tag       TagKind `json:"tag" yaml:"tag"`
	Match     string  `json:"match" yaml:"match"`
}

// Equal compares usages by name and position only.
func (u Usage) Equal(other Usage) bool {
	return u.Name == other.Name && u.FilePath == other.FilePath &&
		u.Line == other.Line && u.Column == other.Column
}

// Contains reports whether a 0-based column falls inside the name span.
func (u Usage) Contains(column int) bool {
	return u.Column <= column && column < u.EndColumn
}

var (
	directTagPattern = regexp.MustCompile(
		`\{%\s*(hx_post|hx_get|hx_request)\s+(?:['"]([^'"]+)['"]|([a-zA-Z_][a-zA-Z0-9_.]*))`)
	valsTagPattern = regexp.MustCompile(
		`(?s)\{%\s*hx_vals\s+.*?hx_request_name\s*=\s*(?:['"]([^'"]+)['"]|([a-zA-Z_][a-zA-Z0-9_.]*))`)

	completionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{%\s*(hx_post|hx_get|hx_request)\s+['"]?$`),
		regexp.MustCompile(`hx_request_name\s*=\s*['"]?$`),
		regexp.MustCompile(`\{%\s*(hx_post|hx_get|hx_request)\s+(['"])([^'"]*?)$`),
		regexp.MustCompile(`hx_request_name\s*=\s*(['"])([^'"]*?)$`),
	}
)

// Parse scans template text line by line and returns every usage in order.
// Per line, direct tags come before hx_vals tags.
func Parse(content, path string) []Usage {
	start := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues("template").Observe(time.Since(start).Seconds())
	}()

	var usages []Usage
	for i, line := range SplitLines(content) {
		usages = append(usages, parseLine(line, path, i+1)...)
	}
	return usages
}

func parseLine(line, path string, lineNo int) []Usage {
	var usages []Usage

	for _, m := range directTagPattern.FindAllStringSubmatchIndex(line, -1) {
		name, quoted := submatch(line, m, 2, 3)
		if name == "" || (!quoted && strings.Contains(name, ".")) {
			continue
		}
		usages = append(usages, newUsage(line, path, lineNo, m, name, TagKind(line[m[2]:m[3]])))
	}

	for _, m := range valsTagPattern.FindAllStringSubmatchIndex(line, -1) {
		name, quoted := submatch(line, m, 1, 2)
		if name == "" || (!quoted && strings.Contains(name, ".")) {
			continue
		}
		usages = append(usages, newUsage(line, path, lineNo, m, name, TagVals))
	}
	return usages
}

// submatch returns the quoted group when it matched, else the bare group.
func submatch(line string, m []int, quotedGroup, bareGroup int) (string, bool) {
	if m[2*quotedGroup] >= 0 {
		return line[m[2*quotedGroup]:m[2*quotedGroup+1]], true
	}
	if m[2*bareGroup] >= 0 {
		return line[m[2*bareGroup]:m[2*bareGroup+1]], false
	}
	return "", false
}

func newUsage(line, path string, lineNo int, m []int, name string, tag TagKind) Usage {
	column := utf8.RuneCountInString(line[:namePosition(line, m[0], name)])
	return Usage{
		Name:      name,
		FilePath:  path,
		Line:      lineNo,
		Column:    column,
		EndColumn: column + utf8.RuneCountInString(name),
		Tag:       tag,
		Match:     line[m[0]:m[1]],
	}
}

// namePosition returns the byte offset of name at or after from, preferring
// a single-quoted occurrence, then double-quoted, then bare. It falls back
// to from when the name cannot be found.
func namePosition(line string, from int, name string) int {
	rest := line[from:]
	for _, quote := range []string{"'", `"`} {
		if pos := strings.Index(rest, quote+name+quote); pos >= 0 {
			return from + pos + 1
		}
	}
	if pos := strings.Index(rest, name); pos >= 0 {
		return from + pos
	}
	return from
}

// ParseFile reads a template from disk. Unreadable or non-UTF-8 files give
// no usages.
func ParseFile(path string) []Usage {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("template unreadable", "path", path, "error", err)
		observability.ParseFailuresTotal.WithLabelValues("template").Inc()
		return nil
	}
	if !utf8.Valid(data) {
		slog.Debug("template is not valid utf-8", "path", path)
		observability.ParseFailuresTotal.WithLabelValues("template").Inc()
		return nil
	}
	return Parse(string(data), path)
}

// UsageAt returns the usage under a cursor. line is 1-based and column is a
// 0-based code-point offset.
func UsageAt(content string, line, column int) (Usage, bool) {
	lines := SplitLines(content)
	if line < 1 || line > len(lines) {
		return Usage{}, false
	}
	for _, u := range parseLine(lines[line-1], "", line) {
		if u.Contains(column) {
			return u, true
		}
	}
	return Usage{}, false
}

// InCompletionContext reports whether the text before a 0-based code-point
// column is an open handler-name argument.
func InCompletionContext(line string, column int) bool {
	prefix := runePrefix(line, column)
	for _, pattern := range completionPatterns {
		if pattern.MatchString(prefix) {
			return true
		}
	}
	return false
}

func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SplitLines splits text on the same boundaries as Python's str.splitlines.
// A trailing line break does not produce an empty final line.
func SplitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}
		lines = append(lines, s[start:i])
		i += size
		if r == '\r' && i < len(s) && s[i] == '\n' {
			i++
		}
		start = i
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
