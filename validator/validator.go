package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// ValidationError represents a validation finding with details
type ValidationError struct {
	Type     string `json:"type"`
	Table    string `json:"table,omitempty"`
	Column   string `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "error", "warning", "info"
}

// ValidationResult contains all validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Info     []ValidationError `json:"info"`
}

func newResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
		Info:     []ValidationError{},
	}
}

func (r *ValidationResult) add(e ValidationError) {
	switch e.Severity {
	case "error":
		r.Errors = append(r.Errors, e)
	case "warning":
		r.Warnings = append(r.Warnings, e)
	default:
		r.Info = append(r.Info, e)
	}
	r.Valid = len(r.Errors) == 0
}

// SchemaValidator checks table definitions offline and, when it has a
// backend, against the live store.
type SchemaValidator struct {
	be backend.Backend
}

// NewSchemaValidator creates a validator. be may be nil for offline checks.
func NewSchemaValidator(be backend.Backend) *SchemaValidator {
	return &SchemaValidator{be: be}
}

// ValidateDefinitions checks identifiers and types, then links the
// definitions. The registry is nil when linking failed.
func (v *SchemaValidator) ValidateDefinitions(defs []schema.TableDef, opts ...schema.BuildOption) (*ValidationResult, *schema.Registry) {
	result := newResult()

	for _, def := range defs {
		v.validateTable(def, result)
	}

	reg, err := schema.Build(defs, opts...)
	if err != nil {
		result.add(configFinding("schema", err))
		return result, nil
	}

	for _, t := range reg.Tables() {
		if t.Versioned {
			result.add(ValidationError{
				Type:     "versioned",
				Table:    t.Name,
				Message:  fmt.Sprintf("Table '%s' uses optimistic versioning through column %s", t.Name, schema.VersionColumn),
				Severity: "info",
			})
		}
		for _, rel := range t.ToManys() {
			if rel.OrphanRemoval && !rel.Cascade.Has(schema.CascadeSave) {
				result.add(ValidationError{
					Type:     "orphan_removal",
					Table:    t.Name,
					Column:   rel.Property,
					Message:  fmt.Sprintf("Collection '%s' removes orphans but does not cascade saves; orphans are only deleted when the collection is saved", rel.Property),
					Severity: "warning",
				})
			}
		}
	}
	return result, reg
}

// validateTable checks one definition before linking
func (v *SchemaValidator) validateTable(def schema.TableDef, result *ValidationResult) {
	sqlName := def.SQLName
	if sqlName == "" {
		sqlName = def.Name
	}
	if err := validateIdentifier("table", sqlName); err != nil {
		result.add(ValidationError{Type: "table_name", Table: def.Name, Message: err.Error(), Severity: "error"})
	} else if isReserved(sqlName) {
		result.add(ValidationError{
			Type:     "table_name",
			Table:    def.Name,
			Message:  fmt.Sprintf("table name '%s' is a reserved keyword and is always quoted", sqlName),
			Severity: "warning",
		})
	}

	if len(def.Keys) == 0 && def.Extends == "" {
		result.add(ValidationError{
			Type:     "implicit_key",
			Table:    def.Name,
			Message:  fmt.Sprintf("Table '%s' declares no key and gets an auto-increment %s", def.Name, schema.ImplicitKey),
			Severity: "info",
		})
	}

	fields := make([]schema.FieldDef, 0, len(def.Keys)+len(def.Fields))
	for _, k := range def.Keys {
		fields = append(fields, k.FieldDef)
		if !k.AutoIncrement && k.Unset == nil && schema.KindOf(k.Type) == schema.KindAny {
			result.add(ValidationError{
				Type:     "key_unset",
				Table:    def.Name,
				Column:   k.Property,
				Message:  fmt.Sprintf("key '%s' has no unset value; only a nil key counts as unassigned", k.Property),
				Severity: "warning",
			})
		}
	}
	fields = append(fields, def.Fields...)

	for _, f := range fields {
		col := f.SQLName
		if col == "" {
			col = f.Property
		}
		if err := validateIdentifier("column", col); err != nil {
			result.add(ValidationError{Type: "column_name", Table: def.Name, Column: f.Property, Message: err.Error(), Severity: "error"})
		}
		if f.Type != "" && schema.KindOf(f.Type) == schema.KindAny && !f.Enum {
			result.add(ValidationError{
				Type:     "data_type",
				Table:    def.Name,
				Column:   f.Property,
				Message:  fmt.Sprintf("type '%s' is not recognised; values are passed through uncoerced", f.Type),
				Severity: "warning",
			})
		}
	}
}

// ValidateLive checks a linked registry against the store.
func (v *SchemaValidator) ValidateLive(ctx context.Context, reg *schema.Registry) (*ValidationResult, error) {
	if v.be == nil {
		return nil, errors.New("live validation needs a database connection")
	}
	result := newResult()

	for _, t := range reg.Tables() {
		ok, err := v.be.TableExists(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", t.Name, err)
		}
		if !ok {
			result.add(ValidationError{
				Type:     "missing_table",
				Table:    t.Name,
				Message:  fmt.Sprintf("Table '%s' does not exist in database", t.QualifiedName()),
				Severity: "error",
			})
			continue
		}

		if err := v.be.ValidatePrimaryKeys(ctx, t); err != nil {
			if !result.addConfig("primary_key", err) {
				return nil, err
			}
		}
		for _, f := range t.Fields() {
			if err := v.be.ValidateField(ctx, t, f); err != nil {
				if !result.addConfig("column", err) {
					return nil, err
				}
			}
		}
		for _, rel := range t.ToOnes() {
			if err := v.be.ValidateForeignKey(ctx, t, rel); err != nil {
				if !result.addConfig("foreign_key", err) {
					return nil, err
				}
			}
		}

		if t.Versioned {
			name := backend.VersionTriggerName(t)
			ok, err := v.be.TriggerExists(ctx, t, name)
			if err != nil {
				return nil, fmt.Errorf("failed to check trigger %s: %w", name, err)
			}
			if !ok {
				result.add(ValidationError{
					Type:     "version_trigger",
					Table:    t.Name,
					Message:  fmt.Sprintf("Version trigger '%s' is missing; run 'persisto triggers'", name),
					Severity: "warning",
				})
			}
		}
	}
	return result, nil
}

// addConfig records err when it is a configuration finding and reports
// whether it did. Anything else is a store failure the caller returns.
func (r *ValidationResult) addConfig(kind string, err error) bool {
	var cfg *schema.ConfigError
	if !errors.As(err, &cfg) {
		return false
	}
	r.add(configFinding(kind, err))
	return true
}

func configFinding(kind string, err error) ValidationError {
	e := ValidationError{Type: kind, Message: err.Error(), Severity: "error"}
	var cfg *schema.ConfigError
	if errors.As(err, &cfg) {
		e.Table, e.Column, e.Message = cfg.Table, cfg.Column, cfg.Message
	}
	return e
}

// validateIdentifier checks the portable identifier rules
func validateIdentifier(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}

	if len(name) > 63 {
		return fmt.Errorf("%s name '%s' is too long (max 63 characters)", kind, name)
	}

	for _, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("%s name '%s' contains invalid character '%c'", kind, name, char)
		}
	}

	return nil
}

func isReserved(name string) bool {
	reservedKeywords := []string{"user", "order", "group", "table", "index", "view", "schema"}
	for _, keyword := range reservedKeywords {
		if strings.ToLower(name) == keyword {
			return true
		}
	}
	return false
}
