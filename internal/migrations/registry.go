package migrations

import (
	"encoding/json"
	"sort"
	"strings"
)

// FieldIndexState is the index status of one field after replaying
// migrations up to some point.
type FieldIndexState struct {
	IsIndex bool `json:"is_index"`
	// IndexAdded is the sequence of the migration that introduced the
	// current index, or "" when the field is not indexed.
	IndexAdded string `json:"index_added"`
}

// MarshalJSON encodes an empty IndexAdded as false.
func (s FieldIndexState) MarshalJSON() ([]byte, error) {
	var added any = false
	if s.IndexAdded != "" {
		added = s.IndexAdded
	}
	return json.Marshal(struct {
		IsIndex    bool `json:"is_index"`
		IndexAdded any  `json:"index_added"`
	}{s.IsIndex, added})
}

// UnmarshalJSON accepts both the sequence string and false for IndexAdded.
func (s *FieldIndexState) UnmarshalJSON(data []byte) error {
	var raw struct {
		IsIndex    bool            `json:"is_index"`
		IndexAdded json.RawMessage `json:"index_added"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.IsIndex = raw.IsIndex
	s.IndexAdded = ""
	if len(raw.IndexAdded) > 0 && raw.IndexAdded[0] == '"' {
		return json.Unmarshal(raw.IndexAdded, &s.IndexAdded)
	}
	return nil
}

// ModelRegistry maps model name to field name to index state.
type ModelRegistry map[string]map[string]FieldIndexState

// Clone returns a deep copy of the registry.
func (r ModelRegistry) Clone() ModelRegistry {
	out := make(ModelRegistry, len(r))
	for model, fields := range r {
		copied := make(map[string]FieldIndexState, len(fields))
		for name, state := range fields {
			copied[name] = state
		}
		out[model] = copied
	}
	return out
}

// Models returns model names in sorted order.
func (r ModelRegistry) Models() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fold applies one migration file's operations, in order, to reg and returns
// the resulting registry. reg itself is left untouched. seq is the sequence
// of the migration the operations come from.
//
// CreateModel replaces the model's field map. AlterField updates a single
// field, creating the model or field if unknown; IndexAdded only moves on a
// not-indexed to indexed transition and is cleared when the index goes away.
func Fold(reg ModelRegistry, seq string, ops []Operation) ModelRegistry {
	next := reg.Clone()

	for _, op := range ops {
		switch op := op.(type) {
		case *CreateModel:
			fields := make(map[string]FieldIndexState, len(op.Fields))
			for _, f := range op.Fields {
				fields[f.Name] = newFieldState(f.Def.HasIndex, seq)
			}
			next[op.ModelName] = fields

		case *AlterField:
			model := next.resolveModel(op.ModelName)
			fields, ok := next[model]
			if !ok {
				fields = make(map[string]FieldIndexState)
				next[model] = fields
			}

			prev, ok := fields[op.FieldName]
			if !ok {
				fields[op.FieldName] = newFieldState(op.Def.HasIndex, seq)
				continue
			}
			fields[op.FieldName] = alterFieldState(prev, op.Def.HasIndex, seq)
		}
	}

	return next
}

func newFieldState(hasIndex bool, seq string) FieldIndexState {
	if hasIndex {
		return FieldIndexState{IsIndex: true, IndexAdded: seq}
	}
	return FieldIndexState{}
}

func alterFieldState(prev FieldIndexState, hasIndex bool, seq string) FieldIndexState {
	switch {
	case hasIndex && prev.IsIndex:
		return prev
	case hasIndex:
		return FieldIndexState{IsIndex: true, IndexAdded: seq}
	default:
		return FieldIndexState{}
	}
}

// resolveModel maps an AlterField model_name onto an existing model key.
// Django writes model_name in lower case while CreateModel keeps the class
// name, so an exact match wins and a case-insensitive match is the fallback.
func (r ModelRegistry) resolveModel(name string) string {
	if _, ok := r[name]; ok {
		return name
	}
	for _, model := range r.Models() {
		if strings.EqualFold(model, name) {
			return model
		}
	}
	return name
}
