package migrations

// Operation is a schema mutation taken from a migration's operations list.
// The only implementations are *CreateModel and *AlterField.
type Operation interface {
	// Model returns the name of the model the operation applies to.
	Model() string
	operation()
}

// FieldDef is the part of a field definition call relevant to index tracking.
type FieldDef struct {
	// Call is the dotted callee, e.g. "models.CharField".
	Call     string `json:"call"`
	HasIndex bool   `json:"has_index"`
	Line     int    `json:"line"`
}

// Field is one (name, definition) entry of a CreateModel fields list.
type Field struct {
	Name string   `json:"name"`
	Def  FieldDef `json:"definition"`
}

// CreateModel declares a model and its complete field list.
type CreateModel struct {
	ModelName string  `json:"model_name"`
	Fields    []Field `json:"fields"`
	Line      int     `json:"line"`
}

// AlterField replaces the definition of a single field.
type AlterField struct {
	ModelName string   `json:"model_name"`
	FieldName string   `json:"field_name"`
	Def       FieldDef `json:"definition"`
	Line      int      `json:"line"`
}

func (op *CreateModel) Model() string { return op.ModelName }
func (op *AlterField) Model() string  { return op.ModelName }

func (*CreateModel) operation() {}
func (*AlterField) operation()  {}

// Dependency is one ("app", "migration_name") entry of a Migration's
// dependencies list.
type Dependency struct {
	App       string `json:"app"`
	Migration string `json:"migration"`
}

// FileOperations holds everything extracted from one migration file, with
// operations in source order.
type FileOperations struct {
	Path         string       `json:"path"`
	Operations   []Operation  `json:"operations"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// CreateModels returns the file's CreateModel operations in source order.
func (f *FileOperations) CreateModels() []*CreateModel {
	var out []*CreateModel
	for _, op := range f.Operations {
		if cm, ok := op.(*CreateModel); ok {
			out = append(out, cm)
		}
	}
	return out
}

// AlterFields returns the file's AlterField operations in source order.
func (f *FileOperations) AlterFields() []*AlterField {
	var out []*AlterField
	for _, op := range f.Operations {
		if af, ok := op.(*AlterField); ok {
			out = append(out, af)
		}
	}
	return out
}
