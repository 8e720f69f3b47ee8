package rules

import "time"

// GraphMetadata contains metadata about a correlation graph document
type GraphMetadata struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// GraphSpec contains the correlation graph specification
type GraphSpec struct {
	Enabled       bool                `yaml:"enabled" json:"enabled"`
	WindowSeconds int                 `yaml:"window_seconds" json:"window_seconds"`
	Edges         map[string][]string `yaml:"edges" json:"edges"`
}

// GraphDocument represents a CorrelationGraph file
type GraphDocument struct {
	APIVersion string        `yaml:"apiVersion" json:"apiVersion"`
	Kind       string        `yaml:"kind" json:"kind"`
	Metadata   GraphMetadata `yaml:"metadata" json:"metadata"`
	Spec       GraphSpec     `yaml:"spec" json:"spec"`
	SourceFile string        `yaml:"-" json:"source_file"`
}

// GraphKind is the expected kind of a correlation graph document
const GraphKind = "CorrelationGraph"

// Validate checks if a graph document is usable
func (d *GraphDocument) Validate() error {
	if d.Metadata.ID == "" {
		return &ValidationError{Field: "metadata.id", Message: "graph ID is required"}
	}

	if d.Kind != "" && d.Kind != GraphKind {
		return &ValidationError{Field: "kind", Message: "kind must be " + GraphKind}
	}

	if len(d.Spec.Edges) == 0 {
		return &ValidationError{Field: "spec.edges", Message: "at least one edge list is required"}
	}

	if d.Spec.WindowSeconds < 0 {
		return &ValidationError{Field: "spec.window_seconds", Message: "window must not be negative"}
	}

	for from, tos := range d.Spec.Edges {
		if normalize(from) == "" {
			return &ValidationError{Field: "spec.edges", Message: "event type names must not be empty"}
		}
		for _, to := range tos {
			if normalize(to) == "" {
				return &ValidationError{Field: "spec.edges." + from, Message: "event type names must not be empty"}
			}
		}
	}

	return nil
}

// IsEnabled checks if the graph document is enabled
func (d *GraphDocument) IsEnabled() bool {
	return d.Spec.Enabled
}

// Window returns the configured correlation window, zero when unset
func (d *GraphDocument) Window() time.Duration {
	return time.Duration(d.Spec.WindowSeconds) * time.Second
}

// ValidationError represents a graph validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
