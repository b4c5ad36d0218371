package pysyntax

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// treeSitterParser parses Python with the tree-sitter grammar.
type treeSitterParser struct {
	language *sitter.Language
}

// NewParser creates a tree-sitter backed Python parser.
// The returned parser is safe for concurrent use.
func NewParser() Parser {
	return &treeSitterParser{
		language: sitter.NewLanguage(python.Language()),
	}
}

// Parse parses source into a Module. Source with syntax errors yields an
// error wrapping ErrParse that names the first offending line.
func (p *treeSitterParser) Parse(ctx context.Context, filename string, source []byte) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(p.language); err != nil {
		return nil, fmt.Errorf("failed to set python language: %w", err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("%w: %s: parser returned no tree", ErrParse, filename)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		return nil, fmt.Errorf("%w: %s:%d: syntax error", ErrParse, filename, line)
	}

	c := converter{source: source}
	return &Module{Body: c.block(root)}, nil
}

// converter maps tree-sitter nodes onto the pysyntax node types.
type converter struct {
	source []byte
}

func (c converter) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(c.source[n.StartByte():n.EndByte()])
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func posOf(n *sitter.Node) Pos {
	return Pos{Line: lineOf(n)}
}

// block converts the statements directly under a module or block node.
func (c converter) block(n *sitter.Node) []Stmt {
	var stmts []Stmt
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if child.Kind() == "comment" {
			continue
		}
		stmts = append(stmts, c.stmt(child))
	}
	return stmts
}

func (c converter) stmt(n *sitter.Node) Stmt {
	switch n.Kind() {
	case "class_definition":
		cls := &ClassDef{Pos: posOf(n), Name: c.text(n.ChildByFieldName("name"))}
		if body := n.ChildByFieldName("body"); body != nil {
			cls.Body = c.block(body)
		}
		return cls
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			return c.stmt(def)
		}
	case "expression_statement":
		if n.NamedChildCount() == 1 {
			if inner := n.NamedChild(0); inner.Kind() == "assignment" {
				return c.assign(inner)
			}
		}
	}
	return &OtherStmt{Pos: posOf(n), Kind: n.Kind()}
}

func (c converter) assign(n *sitter.Node) Stmt {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		// Bare annotations (x: int) have no value.
		return &OtherStmt{Pos: posOf(n), Kind: n.Kind()}
	}
	return &Assign{Pos: posOf(n), Target: c.expr(left), Value: c.expr(right)}
}

func (c converter) expr(n *sitter.Node) Expr {
	pos := posOf(n)

	switch n.Kind() {
	case "identifier":
		return &Name{Pos: pos, ID: c.text(n)}
	case "attribute":
		return &Attribute{
			Pos:    pos,
			Object: c.expr(n.ChildByFieldName("object")),
			Attr:   c.text(n.ChildByFieldName("attribute")),
		}
	case "call":
		return c.call(n)
	case "list":
		return &List{Pos: pos, Elts: c.elements(n)}
	case "tuple":
		return &Tuple{Pos: pos, Elts: c.elements(n)}
	case "parenthesized_expression":
		if inner := firstNamedChild(n); inner != nil {
			return c.expr(inner)
		}
	case "string":
		if s, ok := c.stringValue(n); ok {
			return &Str{Pos: pos, Value: s}
		}
	case "concatenated_string":
		var b strings.Builder
		for i := uint(0); i < n.NamedChildCount(); i++ {
			part := n.NamedChild(i)
			if part.Kind() == "comment" {
				continue
			}
			s, ok := c.stringValue(part)
			if !ok {
				return &OtherExpr{Pos: pos, Kind: n.Kind(), Text: c.text(n)}
			}
			b.WriteString(s)
		}
		return &Str{Pos: pos, Value: b.String()}
	case "true":
		return &Bool{Pos: pos, Value: true}
	case "false":
		return &Bool{Pos: pos, Value: false}
	case "none":
		return &NoneLit{Pos: pos}
	case "integer":
		if v, err := strconv.ParseInt(c.text(n), 0, 64); err == nil {
			return &Int{Pos: pos, Value: v}
		}
	}

	return &OtherExpr{Pos: pos, Kind: n.Kind(), Text: c.text(n)}
}

func (c converter) call(n *sitter.Node) Expr {
	call := &Call{Pos: posOf(n), Func: c.expr(n.ChildByFieldName("function"))}

	args := n.ChildByFieldName("arguments")
	if args == nil || args.Kind() != "argument_list" {
		// Generator arguments (f(x for x in y)) carry no keywords.
		return call
	}

	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		switch arg.Kind() {
		case "comment":
		case "keyword_argument":
			call.Keywords = append(call.Keywords, Keyword{
				Pos:   posOf(arg),
				Name:  c.text(arg.ChildByFieldName("name")),
				Value: c.expr(arg.ChildByFieldName("value")),
			})
		default:
			call.Args = append(call.Args, c.expr(arg))
		}
	}
	return call
}

func (c converter) elements(n *sitter.Node) []Expr {
	var elts []Expr
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if child.Kind() == "comment" {
			continue
		}
		elts = append(elts, c.expr(child))
	}
	return elts
}

// stringValue returns the text between the opening and closing delimiters.
// f-strings with interpolations are not literals and report false.
func (c converter) stringValue(n *sitter.Node) (string, bool) {
	if n.Kind() != "string" {
		return "", false
	}

	var start, end *sitter.Node
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
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
	return string(c.source[start.EndByte():end.StartByte()]), true
}

func firstNamedChild(n *sitter.Node) *sitter.Node {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if child := n.NamedChild(i); child.Kind() != "comment" {
			return child
		}
	}
	return nil
}

// firstErrorLine finds the line of the first ERROR or missing node.
func firstErrorLine(root *sitter.Node) int {
	line := 0
	walkTree(root, func(n *sitter.Node) bool {
		if line != 0 {
			return false
		}
		if n.IsError() || n.IsMissing() {
			line = lineOf(n)
			return false
		}
		return n.HasError()
	})
	if line == 0 {
		return lineOf(root)
	}
	return line
}

// walkTree recursively walks a tree-sitter tree and calls the visitor for each node.
func walkTree(node *sitter.Node, visitor func(*sitter.Node) bool) {
	if node == nil {
		return
	}

	if !visitor(node) {
		return
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkTree(node.Child(i), visitor)
	}
}
