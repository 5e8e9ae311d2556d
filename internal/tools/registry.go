// Package tools implements the tool registry and dispatcher: name-to-tool
// resolution, argument validation, invocation, and result normalization.
package tools

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loopstack/agentloop/pkg/agentloop"
)

// Registry holds registered tools by name with thread-safe lookup.
// Register fails on a name collision rather than silently overwriting,
// so a misconfigured host surfaces at startup instead of mid-turn.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]agentloop.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]agentloop.Tool), logger: logger}
}

// normalizeName reduces a "::"-namespaced lookup key to its final
// segment.
func normalizeName(name string) string {
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		return name[idx+2:]
	}
	return name
}

// Register adds tool to the registry. It fails with a RegistryError of
// kind InvalidTool if the tool's name is empty after normalization, or
// DuplicateTool if a tool with the same normalized name is already
// registered. The tool's parameters schema is compiled with
// santhosh-tekuri/jsonschema at registration time so malformed schemas
// are rejected early rather than at first dispatch.
func (r *Registry) Register(tool agentloop.Tool) error {
	name := normalizeName(tool.Name())
	if strings.TrimSpace(name) == "" {
		r.logger.Warn("tool registration rejected: empty name", "raw_name", tool.Name())
		return &agentloop.RegistryError{Kind: agentloop.InvalidTool, Name: tool.Name()}
	}

	if schema := tool.ParametersSchema(); len(schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", strings.NewReader(string(schema))); err != nil {
			r.logger.Warn("tool registration rejected: invalid schema", "tool", name, "error", err)
			return &agentloop.RegistryError{Kind: agentloop.InvalidTool, Name: tool.Name()}
		}
		if _, err := compiler.Compile(name + ".json"); err != nil {
			r.logger.Warn("tool registration rejected: schema does not compile", "tool", name, "error", err)
			return &agentloop.RegistryError{Kind: agentloop.InvalidTool, Name: tool.Name()}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool registration rejected: duplicate name", "tool", name)
		return &agentloop.RegistryError{Kind: agentloop.DuplicateTool, Name: name}
	}
	r.tools[name] = tool
	r.logger.Debug("tool registered", "tool", name, "requires_approval", tool.RequiresApproval())
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	normalized := normalizeName(name)
	delete(r.tools, normalized)
	r.logger.Debug("tool unregistered", "tool", normalized)
}

// Get returns a tool by (normalized) name and whether it was found.
func (r *Registry) Get(name string) (agentloop.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[normalizeName(name)]
	return t, ok
}

// Contains reports whether a tool is registered under the given name.
func (r *Registry) Contains(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// ListTools returns every registered tool's schema, sorted ascending by
// name.
func (r *Registry) ListTools() []agentloop.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]agentloop.ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		schemas = append(schemas, agentloop.ToolSchema{
			Name:             name,
			Description:      t.Description(),
			ParametersSchema: t.ParametersSchema(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// ListToolNames returns every registered tool's name, strictly ascending.
func (r *Registry) ListToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
