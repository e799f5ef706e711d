package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ValidationError is one problem found in a configuration
type ValidationError struct {
	Field   string
	Message string
}

// Returns the string representation of validation error
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors joins every problem of one load.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return "validation errors: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e ValidationErrors) Is(target error) bool {
	return target == errors.ErrValidation
}

// Validator checks a parsed catalog
type Validator interface {
	Validate(catalog *Catalog) []ValidationError
}

// DefaultValueSetter fills in omitted catalog fields
type DefaultValueSetter interface {
	SetDefaults(catalog *Catalog)
}

// VariableExpander defines the interface for expanding variables
type VariableExpander interface {
	Expand(data []byte) []byte
}

// EnvExpander implements VariableExpander using environment variables
type EnvExpander struct{}

// Expand expands environment variables with the given data
func (e *EnvExpander) Expand(data []byte) []byte {
	expanded := os.Expand(string(data), os.Getenv)
	return []byte(expanded)
}

// CatalogLoader parses resource catalogs
type CatalogLoader struct {
	expander      VariableExpander
	validators    []Validator
	defaultSetter DefaultValueSetter
}

// NewCatalogLoader creates a new CatalogLoader with the given components
func NewCatalogLoader(
	expander VariableExpander,
	defaultSetter DefaultValueSetter,
	validators ...Validator,
) *CatalogLoader {
	return &CatalogLoader{
		expander:      expander,
		validators:    validators,
		defaultSetter: defaultSetter,
	}
}

// NewDefaultCatalogLoader wires the env expander, defaults and every validator.
func NewDefaultCatalogLoader() *CatalogLoader {
	return NewCatalogLoader(
		&EnvExpander{},
		&CatalogDefaults{},
		&RequiredFieldValidator{},
		&ImportModeValidator{},
		&UniqueNameValidator{},
		&PlaceholderValidator{},
	)
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func (l *CatalogLoader) Load(path string) (*Catalog, error) {
	if path == "" {
		return l.Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrConfiguration, "read catalog")
	}
	return l.Parse(data)
}

// Parse parses a yaml catalog
func (l *CatalogLoader) Parse(data []byte) (*Catalog, error) {
	if l.expander != nil {
		data = l.expander.Expand(data)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, errors.WrapError(err, errors.ErrConfiguration, "parse catalog YAML")
	}

	if l.defaultSetter != nil {
		l.defaultSetter.SetDefaults(&catalog)
	}

	var allErrors ValidationErrors
	for _, validator := range l.validators {
		allErrors = append(allErrors, validator.Validate(&catalog)...)
	}
	if len(allErrors) > 0 {
		return nil, allErrors
	}

	return &catalog, nil
}

// CatalogDefaults implements DefaultValueSetter for Catalog
type CatalogDefaults struct{}

// SetDefaults fills file, key and import mode
func (d *CatalogDefaults) SetDefaults(catalog *Catalog) {
	catalog.Walk(func(r *Resource, _ []*Resource) {
		if r.File == "" && r.Name != "" {
			r.File = r.Name + ".vac"
		}
		if r.Key == "" {
			r.Key = "code"
		}
		if r.Import == "" {
			r.Import = ImportNone
		}
	})
}

// RequiredFieldValidator checks name and path of every entry
type RequiredFieldValidator struct{}

func (v *RequiredFieldValidator) Validate(catalog *Catalog) []ValidationError {
	var errs []ValidationError

	if len(catalog.Resources) == 0 {
		errs = append(errs, ValidationError{Field: "resources", Message: "at least one resource is required"})
	}

	catalog.Walk(func(r *Resource, parents []*Resource) {
		field := fieldPath(r, parents)
		if r.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
		}
		if r.Path == "" {
			errs = append(errs, ValidationError{Field: field + ".path", Message: "is required"})
		}
		if len(r.Children) > 0 && r.Param == "" {
			errs = append(errs, ValidationError{Field: field + ".param", Message: "is required for resources with children"})
		}
		if r.When != nil && r.When.Field == "" {
			errs = append(errs, ValidationError{Field: field + ".when.field", Message: "is required"})
		}
	})

	for i, u := range catalog.Uploads {
		if u.Name == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("uploads[%d].name", i), Message: "is required"})
		}
		if u.Path == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("uploads[%d].path", i), Message: "is required"})
		}
	}

	return errs
}

// ImportModeValidator rejects unknown import modes and impossible combinations
type ImportModeValidator struct{}

func (v *ImportModeValidator) Validate(catalog *Catalog) []ValidationError {
	var errs []ValidationError
	catalog.Walk(func(r *Resource, parents []*Resource) {
		field := fieldPath(r, parents)
		switch r.Import {
		case ImportNone, ImportCollection, ImportArray, ImportSingle:
		default:
			errs = append(errs, ValidationError{Field: field + ".import", Message: fmt.Sprintf("unknown import mode: %s", r.Import)})
		}
		if r.FanOut && r.Import != ImportCollection {
			errs = append(errs, ValidationError{Field: field + ".fan_out", Message: "requires collection import"})
		}
		if r.Stream && len(parents) > 0 {
			errs = append(errs, ValidationError{Field: field + ".stream", Message: "only top-level resources can stream"})
		}
	})
	return errs
}

// UniqueNameValidator rejects duplicate resource or upload names
type UniqueNameValidator struct{}

func (v *UniqueNameValidator) Validate(catalog *Catalog) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]struct{})
	files := make(map[string]string)

	catalog.Walk(func(r *Resource, parents []*Resource) {
		if r.Name == "" {
			return
		}
		if _, dup := seen[r.Name]; dup {
			errs = append(errs, ValidationError{Field: fieldPath(r, parents) + ".name", Message: fmt.Sprintf("duplicate name: %s", r.Name)})
		}
		seen[r.Name] = struct{}{}
		if owner, dup := files[r.File]; dup {
			errs = append(errs, ValidationError{Field: fieldPath(r, parents) + ".file", Message: fmt.Sprintf("already used by %s", owner)})
		}
		files[r.File] = r.Name
	})

	for i, u := range catalog.Uploads {
		if _, dup := seen[u.Name]; dup && u.Name != "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("uploads[%d].name", i), Message: fmt.Sprintf("duplicate name: %s", u.Name)})
		}
		seen[u.Name] = struct{}{}
	}
	return errs
}

// PlaceholderValidator checks that every {{placeholder}} of a path is the
// param of one of the resource's ancestors
type PlaceholderValidator struct{}

func (v *PlaceholderValidator) Validate(catalog *Catalog) []ValidationError {
	var errs []ValidationError
	catalog.Walk(func(r *Resource, parents []*Resource) {
		available := make(map[string]struct{}, len(parents))
		for _, p := range parents {
			available[p.Param] = struct{}{}
		}
		for _, name := range rest.Placeholders(r.Path) {
			if _, ok := available[name]; !ok {
				errs = append(errs, ValidationError{
					Field:   fieldPath(r, parents) + ".path",
					Message: fmt.Sprintf("placeholder {{%s}} is not provided by a parent", name),
				})
			}
		}
	})
	return errs
}

func fieldPath(r *Resource, parents []*Resource) string {
	parts := make([]string, 0, len(parents)+1)
	for _, p := range parents {
		parts = append(parts, p.Name)
	}
	name := r.Name
	if name == "" {
		name = "?"
	}
	parts = append(parts, name)
	return "resources." + strings.Join(parts, ".children.")
}
