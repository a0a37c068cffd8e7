package mcp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/schema"
)

// ToolName is the name the smoke test is published under.
const ToolName = engine.ScenarioName

const toolDescription = "Run the triflow end-to-end smoke test in a real browser: log in, " +
	"create an opportunity, wait for its analysis page, add or find hypotheses and verify they render. " +
	"Returns {ok, steps, opportunityId} or {ok:false, steps, error} with a PNG screenshot when one was captured."

// ToolAdder is the part of *server.MCPServer that registration needs.
type ToolAdder interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

// Registry records which tools a host process has registered. Use one
// registry per server.
type Registry struct {
	mu         sync.Mutex
	registered map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{registered: make(map[string]struct{})}
}

// Registered reports whether name has been registered.
func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registered[name]
	return ok
}

// RegisterResult says what Register did.
type RegisterResult int

const (
	// NotRegistered accompanies a registration error; the server is unchanged.
	NotRegistered RegisterResult = iota
	// Added means the tool was added to the server.
	Added
	// AlreadyRegistered means an earlier call added it; nothing changed.
	AlreadyRegistered
)

func (r RegisterResult) String() string {
	switch r {
	case NotRegistered:
		return "not_registered"
	case Added:
		return "added"
	case AlreadyRegistered:
		return "already_registered"
	default:
		return "unknown"
	}
}

// Register publishes the smoke test tool on adder exactly once per
// registry. Failures are returned, never swallowed; a failed registration
// can be retried.
func Register(reg *Registry, adder ToolAdder, h *Handler) (result RegisterResult, err error) {
	if reg == nil || adder == nil || h == nil {
		return NotRegistered, errors.New("register tool: registry, server and handler are required")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.registered[ToolName]; ok {
		return AlreadyRegistered, nil
	}

	raw, err := schema.ToolInputSchema()
	if err != nil {
		return NotRegistered, fmt.Errorf("register tool %s: %w", ToolName, err)
	}

	defer func() {
		if p := recover(); p != nil {
			result, err = NotRegistered, fmt.Errorf("register tool %s: %v", ToolName, p)
		}
	}()
	adder.AddTool(mcp.NewToolWithRawSchema(ToolName, toolDescription, raw), h.Handle)
	reg.registered[ToolName] = struct{}{}
	return Added, nil
}
