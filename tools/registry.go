package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AltairaLabs/voicebridge/gemini"
)

// DefaultTimeout bounds a tool execution when neither the handler nor the
// dispatcher configures one.
const DefaultTimeout = 10 * time.Second

// HandlerFunc executes one tool call. The context carries the per-call
// deadline; implementations should honor it.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Handler describes one callable tool.
type Handler struct {
	Description string
	// InputSchema is a JSON Schema document for the arguments. Empty means
	// no validation.
	InputSchema json.RawMessage
	// Timeout overrides the dispatcher's fallback timeout for this tool.
	Timeout time.Duration
	Fn      HandlerFunc
}

// Registry maps tool names to handlers. Tools are registered before the
// session starts and the registry is read-only afterwards, so lookups take
// no lock.
type Registry struct {
	handlers  map[string]*Handler
	order     []string
	validator *SchemaValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]*Handler),
		validator: NewSchemaValidator(),
	}
}

// Register adds a tool. A nil handler function or duplicate name is an error.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler.Fn == nil {
		return fmt.Errorf("tool %s has no handler function", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	if len(handler.InputSchema) > 0 {
		if err := r.validator.Compile(name, handler.InputSchema); err != nil {
			return fmt.Errorf("tool %s has an invalid input schema: %w", name, err)
		}
	}
	h := handler
	r.handlers[name] = &h
	r.order = append(r.order, name)
	return nil
}

// Get returns the handler for a name, or nil.
func (r *Registry) Get(name string) *Handler {
	return r.handlers[name]
}

// List returns the registered tool names in registration order.
func (r *Registry) List() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Declarations produces the function declarations for the live session
// setup message, in registration order.
func (r *Registry) Declarations() []gemini.FunctionDeclaration {
	decls := make([]gemini.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		decl := gemini.FunctionDeclaration{
			Name:        name,
			Description: h.Description,
		}
		if len(h.InputSchema) > 0 {
			var params map[string]any
			if err := json.Unmarshal(h.InputSchema, &params); err == nil {
				decl.Parameters = params
			}
		}
		decls = append(decls, decl)
	}
	return decls
}
