package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Error codes reported by LoadError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeInvalid     = "E007" // Declaration is structurally invalid
)

// LoadError is a schema loading failure with an optional source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads every CUE file of dir into a registry and validates it.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schemas directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schemas directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	return LoadValue(value)
}

// LoadString compiles CUE source text into a registry. Used for embedded
// fixtures and tests.
func LoadString(src string) (*Registry, error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return LoadValue(value)
}

// LoadValue reads the "schema" and "type" structs of a built CUE value.
func LoadValue(v cue.Value) (*Registry, error) {
	reg := NewRegistry()

	schemasVal := v.LookupPath(cue.ParsePath("schema"))
	if schemasVal.Exists() {
		iter, err := schemasVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			if err := loadSchema(reg, iter.Label(), iter.Value()); err != nil {
				return nil, err
			}
		}
	}

	typesVal := v.LookupPath(cue.ParsePath("type"))
	if typesVal.Exists() {
		iter, err := typesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			if err := loadType(reg, iter.Label(), iter.Value()); err != nil {
				return nil, err
			}
		}
	}

	if len(reg.schemaOrder) == 0 && len(reg.typeOrder) == 0 {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "no schemas or types found"}
	}
	if err := reg.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return reg, nil
}

func loadSchema(reg *Registry, name string, v cue.Value) error {
	var prefix string
	if p := v.LookupPath(cue.ParsePath("prefix")); p.Exists() {
		s, err := p.String()
		if err != nil {
			return formatCUEError(err)
		}
		prefix = s
	}

	var fields []Field
	if fv := v.LookupPath(cue.ParsePath("fields")); fv.Exists() {
		iter, err := fv.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			kind, array, err := extractFieldKind(iter.Value())
			if err != nil {
				return err
			}
			fields = append(fields, Field{Name: iter.Label(), Kind: kind, Array: array})
		}
	}

	if err := reg.AddSchema(name, prefix, fields...); err != nil {
		return &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Pos: v.Pos()}
	}
	return nil
}

func loadType(reg *Registry, name string, v cue.Value) error {
	var super string
	if sv := v.LookupPath(cue.ParsePath("super")); sv.Exists() {
		s, err := sv.String()
		if err != nil {
			return formatCUEError(err)
		}
		super = s
	}

	var schemas []string
	if sv := v.LookupPath(cue.ParsePath("schemas")); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return formatCUEError(err)
			}
			schemas = append(schemas, s)
		}
	}

	if err := reg.AddType(name, super, schemas...); err != nil {
		return &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Pos: v.Pos()}
	}

	if fv := v.LookupPath(cue.ParsePath("facets")); fv.Exists() {
		iter, err := fv.List()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			f, err := iter.Value().String()
			if err != nil {
				return formatCUEError(err)
			}
			if err := reg.AddFacets(name, f); err != nil {
				return &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Pos: v.Pos()}
			}
		}
	}
	return nil
}

// extractFieldKind accepts either a concrete kind name ("date", "string[]")
// or a bare CUE type (string, int, bool, float, [...string]).
func extractFieldKind(v cue.Value) (FieldKind, bool, error) {
	if s, err := v.String(); err == nil {
		kind, array, err := ParseFieldKind(s)
		if err != nil {
			return "", false, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Pos: v.Pos()}
		}
		return kind, array, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return KindString, false, nil
	case cue.IntKind:
		return KindLong, false, nil
	case cue.BoolKind:
		return KindBoolean, false, nil
	case cue.FloatKind, cue.NumberKind:
		return KindDouble, false, nil
	case cue.ListKind:
		kind, _, err := extractFieldKind(v.LookupPath(cue.MakePath(cue.AnyIndex)))
		if err != nil {
			return "", false, err
		}
		return kind, true, nil
	default:
		return "", false, &LoadError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("unsupported field kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: ErrCodeBuildFailed, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
