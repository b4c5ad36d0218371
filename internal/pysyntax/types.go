// Package pysyntax exposes the small subset of a Python syntax tree needed to
// read declarative source such as Django migration modules.
//
// The tree is a closed set of node types. Anything outside that set is kept as
// an OtherStmt or OtherExpr so callers can decide whether to skip or reject it.
package pysyntax

import (
	"context"
	"errors"
)

// ErrParse indicates the source text is not valid Python.
var ErrParse = errors.New("invalid python source")

// Parser turns raw Python source into a Module.
type Parser interface {
	// Parse parses source. filename is only used for error messages.
	Parse(ctx context.Context, filename string, source []byte) (*Module, error)
}

// Pos is a 1-indexed source line.
type Pos struct {
	Line int
}

// Position returns the node's position.
func (p Pos) Position() Pos { return p }

// Stmt is a statement node.
type Stmt interface {
	Position() Pos
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Position() Pos
	exprNode()
}

// Module is a parsed source file.
type Module struct {
	Body []Stmt
}

// Classes returns the module's top-level class definitions in source order.
func (m *Module) Classes() []*ClassDef {
	var classes []*ClassDef
	for _, s := range m.Body {
		if c, ok := s.(*ClassDef); ok {
			classes = append(classes, c)
		}
	}
	return classes
}

// ClassDef is a class statement.
type ClassDef struct {
	Pos
	Name string
	Body []Stmt
}

// Assign is a single-target assignment statement (name = value).
type Assign struct {
	Pos
	Target Expr
	Value  Expr
}

// TargetName returns the assignment target when it is a plain identifier.
func (a *Assign) TargetName() (string, bool) {
	n, ok := a.Target.(*Name)
	if !ok {
		return "", false
	}
	return n.ID, true
}

// OtherStmt is any statement the tree does not model.
type OtherStmt struct {
	Pos
	Kind string
}

func (*ClassDef) stmtNode()  {}
func (*Assign) stmtNode()    {}
func (*OtherStmt) stmtNode() {}

// Name is an identifier reference.
type Name struct {
	Pos
	ID string
}

// Attribute is a dotted access (object.attr).
type Attribute struct {
	Pos
	Object Expr
	Attr   string
}

// Keyword is a keyword argument in a call.
type Keyword struct {
	Pos
	Name  string
	Value Expr
}

// Call is a call expression.
type Call struct {
	Pos
	Func     Expr
	Args     []Expr
	Keywords []Keyword
}

// CalleeAttr returns the attribute name of the callee for calls of the form
// x.Attr(...).
func (c *Call) CalleeAttr() (string, bool) {
	a, ok := c.Func.(*Attribute)
	if !ok {
		return "", false
	}
	return a.Attr, true
}

// Keyword returns the value of the named keyword argument.
func (c *Call) Keyword(name string) (Expr, bool) {
	for _, kw := range c.Keywords {
		if kw.Name == name {
			return kw.Value, true
		}
	}
	return nil, false
}

// List is a list display.
type List struct {
	Pos
	Elts []Expr
}

// Tuple is a tuple display.
type Tuple struct {
	Pos
	Elts []Expr
}

// Str is a string literal. Escape sequences are kept verbatim.
type Str struct {
	Pos
	Value string
}

// Bool is True or False.
type Bool struct {
	Pos
	Value bool
}

// Int is an integer literal.
type Int struct {
	Pos
	Value int64
}

// NoneLit is the None literal.
type NoneLit struct {
	Pos
}

// OtherExpr is any expression the tree does not model.
type OtherExpr struct {
	Pos
	Kind string
	Text string
}

func (*Name) exprNode()      {}
func (*Attribute) exprNode() {}
func (*Call) exprNode()      {}
func (*List) exprNode()      {}
func (*Tuple) exprNode()     {}
func (*Str) exprNode()       {}
func (*Bool) exprNode()      {}
func (*Int) exprNode()       {}
func (*NoneLit) exprNode()   {}
func (*OtherExpr) exprNode() {}

// Elements returns the elements of a list or tuple display.
func Elements(e Expr) ([]Expr, bool) {
	switch v := e.(type) {
	case *List:
		return v.Elts, true
	case *Tuple:
		return v.Elts, true
	default:
		return nil, false
	}
}

// DottedName renders a Name or Attribute chain such as models.CharField.
// Other expressions render as their kind in angle brackets.
func DottedName(e Expr) string {
	switch v := e.(type) {
	case *Name:
		return v.ID
	case *Attribute:
		return DottedName(v.Object) + "." + v.Attr
	case *Call:
		return DottedName(v.Func) + "()"
	case *OtherExpr:
		return "<" + v.Kind + ">"
	case nil:
		return ""
	default:
		return "<" + typeName(e) + ">"
	}
}

func typeName(e Expr) string {
	switch e.(type) {
	case *List:
		return "list"
	case *Tuple:
		return "tuple"
	case *Str:
		return "string"
	case *Bool:
		return "bool"
	case *Int:
		return "integer"
	case *NoneLit:
		return "none"
	default:
		return "expression"
	}
}

// KindOf returns a short human-readable name for an expression's kind.
func KindOf(e Expr) string {
	switch v := e.(type) {
	case *Name:
		return "name"
	case *Attribute:
		return "attribute"
	case *Call:
		return "call"
	case *OtherExpr:
		return v.Kind
	case nil:
		return "nothing"
	default:
		return typeName(e)
	}
}
