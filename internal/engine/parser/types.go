package parser

import "slices"

// BaseClassInfo records where a direct base class of a handler was declared.
// FilePath and Line are empty until the resolver locates the declaration.
type BaseClassInfo struct {
	Name     string `json:"name" yaml:"name"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
}

func (b BaseClassInfo) Resolved() bool {
	return b.FilePath != ""
}

// Definition is one hx-request handler class declared in Python source.
type Definition struct {
	Name          string          `json:"name" yaml:"name"`
	ClassName     string          `json:"class_name" yaml:"class_name"`
	FilePath      string          `json:"file_path" yaml:"file_path"`
	Line          int             `json:"line" yaml:"line"`
	EndLine       int             `json:"end_line" yaml:"end_line"`
	Column        int             `json:"column" yaml:"column"`
	BaseClasses   []string        `json:"base_classes,omitempty" yaml:"base_classes,omitempty"`
	BaseClassInfo []BaseClassInfo `json:"base_class_info,omitempty" yaml:"base_class_info,omitempty"`
	Docstring     string          `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	GetTemplate   string          `json:"get_template,omitempty" yaml:"get_template,omitempty"`
	PostTemplate  string          `json:"post_template,omitempty" yaml:"post_template,omitempty"`
}

// Key identifies a definition by name, file and declaration line.
func (d Definition) Key() string {
	return d.Name + "@" + d.FilePath + ":" + itoa(d.Line)
}

// Equal reports whether two definitions describe the same declaration.
func (d Definition) Equal(other Definition) bool {
	return d.Name == other.Name && d.FilePath == other.FilePath && d.Line == other.Line
}

// Clone returns a copy that shares no slices with d.
func (d Definition) Clone() Definition {
	d.BaseClasses = slices.Clone(d.BaseClasses)
	d.BaseClassInfo = slices.Clone(d.BaseClassInfo)
	return d
}

// SourceFile is the result of parsing one Python file.
type SourceFile struct {
	Path        string
	Definitions []Definition
	// Imports maps a local name bound by `from M import N [as A]` to M.
	Imports map[string]string
	// Classes maps every class name declared in the file to its line.
	Classes map[string]int
}

func newSourceFile(path string) *SourceFile {
	return &SourceFile{
		Path:    path,
		Imports: make(map[string]string),
		Classes: make(map[string]int),
	}
}
