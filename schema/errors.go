package schema

import "fmt"

// ConfigError is raised when a schema, or data checked against it, cannot be
// used. Configuration errors are never retried.
type ConfigError struct {
	Table   string
	Column  string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Table != "" && e.Column != "":
		return fmt.Sprintf("schema: %s.%s: %s", e.Table, e.Column, e.Message)
	case e.Table != "":
		return fmt.Sprintf("schema: %s: %s", e.Table, e.Message)
	default:
		return "schema: " + e.Message
	}
}
