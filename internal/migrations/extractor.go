package migrations

import (
	"context"
	"fmt"
	"os"

	"github.com/mvp-joe/dbindex-check/internal/pysyntax"
)

const (
	migrationClassName = "Migration"
	operationsAttr     = "operations"
	dependenciesAttr   = "dependencies"

	createModelCall = "CreateModel"
	alterFieldCall  = "AlterField"

	dbIndexKeyword = "db_index"
)

// OperationSource yields the operations of a single migration file.
type OperationSource interface {
	Extract(ctx context.Context, path string) (*FileOperations, error)
}

// Extractor reads CreateModel and AlterField operations out of Django
// migration modules.
type Extractor struct {
	parser pysyntax.Parser
}

// NewExtractor creates an extractor. A nil parser selects the tree-sitter parser.
func NewExtractor(parser pysyntax.Parser) *Extractor {
	if parser == nil {
		parser = pysyntax.NewParser()
	}
	return &Extractor{parser: parser}
}

// Extract parses the file at path and returns its index-relevant operations.
// A file without a Migration class yields no operations. Parse failures wrap
// pysyntax.ErrParse; shape mismatches are *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, path string) (*FileOperations, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", path, err)
	}

	mod, err := e.parser.Parse(ctx, path, source)
	if err != nil {
		return nil, err
	}

	return ExtractModule(path, mod)
}

// ExtractModule extracts operations from an already parsed module.
func ExtractModule(path string, mod *pysyntax.Module) (*FileOperations, error) {
	result := &FileOperations{Path: path, Operations: []Operation{}}

	var migration *pysyntax.ClassDef
	for _, cls := range mod.Classes() {
		if cls.Name != migrationClassName {
			continue
		}
		if migration != nil {
			return nil, &ExtractionError{
				Path:   path,
				Line:   cls.Line,
				Reason: fmt.Sprintf("more than one %s class (first at line %d)", migrationClassName, migration.Line),
			}
		}
		migration = cls
	}
	if migration == nil {
		return result, nil
	}

	x := extraction{path: path}
	for _, stmt := range migration.Body {
		assign, ok := stmt.(*pysyntax.Assign)
		if !ok {
			continue
		}
		name, ok := assign.TargetName()
		if !ok {
			continue
		}

		switch name {
		case operationsAttr:
			ops, err := x.operations(assign.Value)
			if err != nil {
				return nil, err
			}
			result.Operations = append(result.Operations, ops...)
		case dependenciesAttr:
			result.Dependencies = append(result.Dependencies, dependencies(assign.Value)...)
		}
	}

	return result, nil
}

// extraction carries the file path for error reporting.
type extraction struct {
	path string
}

func (x extraction) fault(node pysyntax.Expr, format string, args ...any) error {
	line := 0
	if node != nil {
		line = node.Position().Line
	}
	return &ExtractionError{Path: x.path, Line: line, Reason: fmt.Sprintf(format, args...)}
}

// operations classifies each call in the operations list. Calls other than
// x.CreateModel(...) and x.AlterField(...) are skipped.
func (x extraction) operations(value pysyntax.Expr) ([]Operation, error) {
	elts, ok := pysyntax.Elements(value)
	if !ok {
		return nil, x.fault(value, "%s must be a list, got %s", operationsAttr, pysyntax.KindOf(value))
	}

	var ops []Operation
	for _, elt := range elts {
		call, ok := elt.(*pysyntax.Call)
		if !ok {
			return nil, x.fault(elt, "operation must be a call, got %s", pysyntax.KindOf(elt))
		}

		attr, _ := call.CalleeAttr()
		switch attr {
		case createModelCall:
			op, err := x.createModel(call)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case alterFieldCall:
			op, err := x.alterField(call)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		default:
			// RunPython, AddField, bare-name callees, etc.
		}
	}
	return ops, nil
}

func (x extraction) createModel(call *pysyntax.Call) (*CreateModel, error) {
	name, err := x.stringKeyword(call, "name")
	if err != nil {
		return nil, err
	}

	fieldsExpr, ok := call.Keyword("fields")
	if !ok {
		return nil, x.fault(call, "%s %q has no fields keyword", createModelCall, name)
	}
	entries, ok := pysyntax.Elements(fieldsExpr)
	if !ok {
		return nil, x.fault(fieldsExpr, "%s %q fields must be a list, got %s", createModelCall, name, pysyntax.KindOf(fieldsExpr))
	}

	op := &CreateModel{ModelName: name, Fields: make([]Field, 0, len(entries)), Line: call.Line}
	for _, entry := range entries {
		pair, ok := entry.(*pysyntax.Tuple)
		if !ok || len(pair.Elts) != 2 {
			return nil, x.fault(entry, "%s %q field entries must be (name, field) tuples", createModelCall, name)
		}

		fieldName, ok := pair.Elts[0].(*pysyntax.Str)
		if !ok {
			return nil, x.fault(pair.Elts[0], "field name must be a string, got %s", pysyntax.KindOf(pair.Elts[0]))
		}

		def, err := x.fieldDef(pair.Elts[1])
		if err != nil {
			return nil, err
		}
		op.Fields = append(op.Fields, Field{Name: fieldName.Value, Def: def})
	}
	return op, nil
}

func (x extraction) alterField(call *pysyntax.Call) (*AlterField, error) {
	modelName, err := x.stringKeyword(call, "model_name")
	if err != nil {
		return nil, err
	}
	fieldName, err := x.stringKeyword(call, "name")
	if err != nil {
		return nil, err
	}

	fieldExpr, ok := call.Keyword("field")
	if !ok {
		return nil, x.fault(call, "%s %s.%s has no field keyword", alterFieldCall, modelName, fieldName)
	}
	def, err := x.fieldDef(fieldExpr)
	if err != nil {
		return nil, err
	}

	return &AlterField{ModelName: modelName, FieldName: fieldName, Def: def, Line: call.Line}, nil
}

// fieldDef reads a field constructor call such as models.CharField(db_index=True).
func (x extraction) fieldDef(expr pysyntax.Expr) (FieldDef, error) {
	call, ok := expr.(*pysyntax.Call)
	if !ok {
		return FieldDef{}, x.fault(expr, "field definition must be a call, got %s", pysyntax.KindOf(expr))
	}

	def := FieldDef{Call: pysyntax.DottedName(call.Func), Line: call.Line}
	if v, ok := call.Keyword(dbIndexKeyword); ok {
		b, ok := v.(*pysyntax.Bool)
		if !ok {
			return FieldDef{}, x.fault(v, "%s must be True or False, got %s", dbIndexKeyword, pysyntax.KindOf(v))
		}
		def.HasIndex = b.Value
	}
	return def, nil
}

func (x extraction) stringKeyword(call *pysyntax.Call, name string) (string, error) {
	v, ok := call.Keyword(name)
	if !ok {
		return "", x.fault(call, "%s() is missing keyword %q", pysyntax.DottedName(call.Func), name)
	}
	s, ok := v.(*pysyntax.Str)
	if !ok {
		return "", x.fault(v, "keyword %q must be a string, got %s", name, pysyntax.KindOf(v))
	}
	return s.Value, nil
}

// dependencies reads ("app", "migration") pairs. Entries of any other shape,
// such as migrations.swappable_dependency(...), are skipped.
func dependencies(value pysyntax.Expr) []Dependency {
	elts, ok := pysyntax.Elements(value)
	if !ok {
		return nil
	}

	var deps []Dependency
	for _, elt := range elts {
		pair, ok := pysyntax.Elements(elt)
		if !ok || len(pair) != 2 {
			continue
		}
		app, ok1 := pair[0].(*pysyntax.Str)
		name, ok2 := pair[1].(*pysyntax.Str)
		if !ok1 || !ok2 {
			continue
		}
		deps = append(deps, Dependency{App: app.Value, Migration: name.Value})
	}
	return deps
}
