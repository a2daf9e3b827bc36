package tmexio

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Documentation describes every handler of a CompiledRouter in an
// AsyncAPI-flavoured layout.
type Documentation struct {
	Events     []HandlerDoc `yaml:"events"`
	Connect    *HandlerDoc  `yaml:"connect,omitempty"`
	Disconnect *HandlerDoc  `yaml:"disconnect,omitempty"`
}

// HandlerDoc describes one handler.
type HandlerDoc struct {
	Name         string         `yaml:"name"`
	Summary      string         `yaml:"summary,omitempty"`
	Description  string         `yaml:"description,omitempty"`
	Body         map[string]any `yaml:"body,omitempty"`
	HasBody      bool           `yaml:"has_body"`
	SuccessCode  int            `yaml:"success_code,omitempty"`
	Exceptions   []ExceptionDoc `yaml:"exceptions,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty"`
}

// ExceptionDoc describes one declared exception.
type ExceptionDoc struct {
	Code    int    `yaml:"code"`
	Message string `yaml:"message"`
}

func (h *baseHandler) describe() HandlerDoc {
	doc := HandlerDoc{
		Name:        h.name,
		Summary:     h.summary,
		Description: h.description,
		HasBody:     h.body != nil,
	}
	if sd, ok := h.body.(SchemaDescriber); ok {
		doc.Body = sd.JSONSchema()
	}
	for _, exc := range h.declared {
		doc.Exceptions = append(doc.Exceptions, ExceptionDoc{Code: exc.Code, Message: exc.Message})
	}
	for _, d := range h.dependencies {
		doc.Dependencies = append(doc.Dependencies, d.name)
	}
	return doc
}

// Describe returns documentation for the handler.
func (h *EventHandler) Describe() HandlerDoc {
	doc := h.describe()
	doc.SuccessCode = h.packager.Code
	return doc
}

// Describe returns documentation for every registered handler. Events are
// sorted by name.
func (cr *CompiledRouter) Describe() Documentation {
	var doc Documentation
	for _, name := range cr.Events() {
		doc.Events = append(doc.Events, cr.events[name].Describe())
	}
	if cr.connect != nil {
		d := cr.connect.describe()
		doc.Connect = &d
	}
	if cr.disconnect != nil {
		d := cr.disconnect.describe()
		doc.Disconnect = &d
	}
	return doc
}

// DocumentationYAML renders Describe as YAML.
func (cr *CompiledRouter) DocumentationYAML() ([]byte, error) {
	out, err := yaml.Marshal(cr.Describe())
	if err != nil {
		return nil, fmt.Errorf("marshal documentation: %w", err)
	}
	return out, nil
}
