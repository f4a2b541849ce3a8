package parser

import (
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// handlerBaseSuffixes mark a base class as belonging to the hx-request handler family.
var handlerBaseSuffixes = []string{"HxRequest", "HxMixin", "Hx", "TabsRouter"}

const (
	attrName         = "name"
	attrGetTemplate  = "GET_template"
	attrPostTemplate = "POST_template"
)

// IsHandlerBase reports whether a base class name ends with a handler suffix.
func IsHandlerBase(name string) bool {
	for _, suffix := range handlerBaseSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

type classDecl struct {
	name  string
	line  int
	depth int
}

type pythonExtractor struct {
	classes []classDecl
}

func (e *pythonExtractor) Extract(ctx *ExtractionContext, root *sitter.Node) {
	engine := NewExtractorEngine(map[string]NodeHandler{
		"class_definition":      e.extractClass,
		"import_from_statement": e.extractFromImport,
	})
	engine.Walk(ctx, root)
	e.fillClassTable(ctx.File)
}

// fillClassTable applies declarations breadth-first: shallower statements
// first, document order within a level, and the last one applied wins. A
// nested class therefore shadows a top-level class of the same name.
func (e *pythonExtractor) fillClassTable(file *SourceFile) {
	sort.SliceStable(e.classes, func(i, j int) bool {
		return e.classes[i].depth < e.classes[j].depth
	})
	for _, c := range e.classes {
		file.Classes[c.name] = c.line
	}
}

// statementDepth counts the compound statements enclosing node the way
// Python's syntax tree nests them. Each elif is an if nested in the previous
// branch's else, and except and case clauses are nodes of their own.
func statementDepth(node *sitter.Node) int {
	depth := 0
	child := node
	for parent := node.Parent(); parent != nil; child, parent = parent, parent.Parent() {
		switch parent.Kind() {
		case "class_definition", "function_definition", "for_statement", "while_statement",
			"with_statement", "try_statement", "except_clause", "except_group_clause",
			"match_statement", "case_clause":
			depth++
		case "if_statement":
			depth++
			switch child.Kind() {
			case "elif_clause", "else_clause":
				depth += elifsBefore(parent, child)
			}
		}
	}
	return depth
}

// elifsBefore counts the elif clauses of ifStmt up to and including clause.
func elifsBefore(ifStmt, clause *sitter.Node) int {
	n := 0
	for i := uint(0); i < ifStmt.ChildCount(); i++ {
		c := ifStmt.Child(i)
		if c.StartByte() > clause.StartByte() {
			break
		}
		if c.Kind() == "elif_clause" {
			n++
		}
	}
	return n
}

func (e *pythonExtractor) extractClass(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	className := ctx.Text(nameNode)
	e.classes = append(e.classes, classDecl{name: className, line: Line(node), depth: statementDepth(node)})

	bases := baseClassNames(ctx, node.ChildByFieldName("superclasses"))
	if !hasHandlerBase(bases) {
		return false
	}

	body := node.ChildByFieldName("body")
	hxName, ok := classStringAttribute(ctx, body, attrName)
	if !ok {
		return false
	}
	getTemplate, _ := classStringAttribute(ctx, body, attrGetTemplate)
	postTemplate, _ := classStringAttribute(ctx, body, attrPostTemplate)

	info := make([]BaseClassInfo, 0, len(bases))
	for _, base := range bases {
		info = append(info, BaseClassInfo{Name: base})
	}

	ctx.File.Definitions = append(ctx.File.Definitions, Definition{
		Name:          hxName,
		ClassName:     className,
		FilePath:      ctx.File.Path,
		Line:          Line(node),
		EndLine:       EndLine(node),
		Column:        int(node.StartPosition().Column),
		BaseClasses:   bases,
		BaseClassInfo: info,
		Docstring:     classDocstring(ctx, body),
		GetTemplate:   getTemplate,
		PostTemplate:  postTemplate,
	})
	// Nested classes are visited by the walker.
	return false
}

func hasHandlerBase(bases []string) bool {
	for _, base := range bases {
		if IsHandlerBase(base) {
			return true
		}
	}
	return false
}

// baseClassNames returns the simple names of the positional bases:
// `Foo` gives Foo, `pkg.mod.Foo` gives Foo, `Foo[T]` gives Foo.
func baseClassNames(ctx *ExtractionContext, args *sitter.Node) []string {
	if args == nil {
		return nil
	}
	var names []string
	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		switch arg.Kind() {
		case "identifier":
			names = append(names, ctx.Text(arg))
		case "attribute":
			if attr := arg.ChildByFieldName("attribute"); attr != nil {
				names = append(names, ctx.Text(attr))
			}
		case "subscript":
			if value := arg.ChildByFieldName("value"); value != nil && value.Kind() == "identifier" {
				names = append(names, ctx.Text(value))
			}
		}
	}
	return names
}

// classStringAttribute finds the first direct `attr = "literal"` (or
// `attr: T = "literal"`) statement in a class body.
func classStringAttribute(ctx *ExtractionContext, body *sitter.Node, attr string) (string, bool) {
	if body == nil {
		return "", false
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		stmt := body.NamedChild(i)
		if stmt.Kind() != "expression_statement" {
			continue
		}
		for j := uint(0); j < stmt.NamedChildCount(); j++ {
			expr := stmt.NamedChild(j)
			if expr.Kind() != "assignment" {
				continue
			}
			if value, ok := assignedString(ctx, expr, attr); ok {
				return value, true
			}
		}
	}
	return "", false
}

func assignedString(ctx *ExtractionContext, assign *sitter.Node, attr string) (string, bool) {
	// `a = b = "x"` nests as assignment(left: a, right: assignment(left: b, right: "x")).
	var targets []*sitter.Node
	var value *sitter.Node
	for cur := assign; cur != nil; {
		targets = append(targets, cur.ChildByFieldName("left"))
		right := cur.ChildByFieldName("right")
		if right == nil || right.Kind() != "assignment" {
			value = right
			break
		}
		cur = right
	}
	if value == nil {
		return "", false
	}

	matched := false
	for _, target := range targets {
		if target != nil && target.Kind() == "identifier" && ctx.Text(target) == attr {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}
	return stringLiteral(ctx, value)
}

// stringLiteral evaluates a node that is a plain str constant.
// Byte strings, f-strings and template strings are rejected.
func stringLiteral(ctx *ExtractionContext, node *sitter.Node) (string, bool) {
	switch node.Kind() {
	case "parenthesized_expression":
		var inner *sitter.Node
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child.Kind() == "comment" {
				continue
			}
			if inner != nil {
				return "", false
			}
			inner = child
		}
		if inner == nil {
			return "", false
		}
		return stringLiteral(ctx, inner)
	case "concatenated_string":
		var b strings.Builder
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child.Kind() == "comment" {
				continue
			}
			part, ok := stringLiteral(ctx, child)
			if !ok {
				return "", false
			}
			b.WriteString(part)
		}
		return b.String(), true
	case "string":
		return decodeStringNode(ctx, node)
	}
	return "", false
}

func decodeStringNode(ctx *ExtractionContext, node *sitter.Node) (string, bool) {
	var start, end *sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		switch child.Kind() {
		case "string_start":
			start = child
		case "string_end":
			end = child
		case "interpolation":
			return "", false
		}
	}
	if start == nil || end == nil {
		return "", false
	}

	prefix := strings.ToLower(strings.TrimRight(ctx.Text(start), `"'`))
	if strings.ContainsAny(prefix, "bft") {
		return "", false
	}
	raw := ctx.Between(start, end)
	if strings.Contains(prefix, "r") {
		return raw, true
	}
	return decodeEscapes(raw)
}

// classDocstring returns the cleaned docstring when the first statement of
// the body is a lone string expression.
func classDocstring(ctx *ExtractionContext, body *sitter.Node) string {
	if body == nil {
		return ""
	}
	for i := uint(0); i < body.NamedChildCount(); i++ {
		stmt := body.NamedChild(i)
		if stmt.Kind() == "comment" {
			continue
		}
		if stmt.Kind() != "expression_statement" || stmt.NamedChildCount() != 1 {
			return ""
		}
		doc, ok := stringLiteral(ctx, stmt.NamedChild(0))
		if !ok {
			return ""
		}
		return cleanDocstring(doc)
	}
	return ""
}

// extractFromImport records `from M import N [as A]` bindings. Relative
// modules keep their leading dots; wildcard imports bind nothing.
func (e *pythonExtractor) extractFromImport(ctx *ExtractionContext, node *sitter.Node) bool {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return true
	}
	module := strings.Join(strings.Fields(ctx.Text(moduleNode)), "")
	if module == "" {
		return true
	}

	afterImport := false
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == "import" {
			afterImport = true
			continue
		}
		if !afterImport {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			ctx.File.Imports[ctx.Text(child)] = module
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				ctx.File.Imports[ctx.Text(alias)] = module
			} else if name := child.ChildByFieldName("name"); name != nil {
				ctx.File.Imports[ctx.Text(name)] = module
			}
		}
	}
	return true
}
