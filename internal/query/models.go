package query

// Position uses 1-based lines and 0-based code-point columns.
type Position struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

type Range struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

type Location struct {
	Path  string `json:"path" yaml:"path"`
	Range Range  `json:"range" yaml:"range"`
}

type Hover struct {
	Name     string `json:"name" yaml:"name"`
	Known    bool   `json:"known" yaml:"known"`
	Markdown string `json:"markdown" yaml:"markdown"`
	// Range is set for template cursors only.
	Range *Range `json:"range,omitempty" yaml:"range,omitempty"`
}

type CompletionItem struct {
	Label         string `json:"label" yaml:"label"`
	Detail        string `json:"detail" yaml:"detail"`
	Documentation string `json:"documentation" yaml:"documentation"`
	InsertText    string `json:"insert_text" yaml:"insert_text"`
}

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityHint    Severity = "hint"
)

const (
	CodeUnknownRequest = "unknown-hx-request"
	CodeUnusedRequest  = "unused-hx-request"
	DiagnosticSource   = "hxindex"
)

type Diagnostic struct {
	Path     string   `json:"path" yaml:"path"`
	Range    Range    `json:"range" yaml:"range"`
	Severity Severity `json:"severity" yaml:"severity"`
	Code     string   `json:"code" yaml:"code"`
	Source   string   `json:"source" yaml:"source"`
	Message  string   `json:"message" yaml:"message"`
}
