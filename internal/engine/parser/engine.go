package parser

import (
	"strconv"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// NodeHandler processes a node during a walk.
// Returns true if the handler consumed the subtree and the walker should not descend.
type NodeHandler func(ctx *ExtractionContext, node *sitter.Node) bool

// ExtractionContext carries the source and the file being populated.
type ExtractionContext struct {
	Source []byte
	File   *SourceFile
}

// ExtractorEngine walks the syntax tree and dispatches node handlers by kind.
type ExtractorEngine struct {
	handlers map[string]NodeHandler
}

func NewExtractorEngine(handlers map[string]NodeHandler) *ExtractorEngine {
	return &ExtractorEngine{handlers: handlers}
}

// Walk visits nodes in document order.
func (e *ExtractorEngine) Walk(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil {
		return
	}

	if handler, ok := e.handlers[node.Kind()]; ok {
		if handler(ctx, node) {
			return
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		e.Walk(ctx, node.Child(i))
	}
}

func (c *ExtractionContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.Source[node.StartByte():node.EndByte()])
}

// Between returns the source bytes between the end of a and the start of b.
func (c *ExtractionContext) Between(a, b *sitter.Node) string {
	start, end := a.EndByte(), b.StartByte()
	if end < start {
		return ""
	}
	return string(c.Source[start:end])
}

// Line returns the 1-based line a node starts on.
func Line(node *sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

// EndLine returns the 1-based last line that holds part of the node.
func EndLine(node *sitter.Node) int {
	end := node.EndPosition()
	if end.Column == 0 && end.Row > node.StartPosition().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
