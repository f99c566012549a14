// Package agent abstracts the coding agents Sentinel mediates for. Each
// agent implementation maps its native hook-event schema onto the canonical
// request shape and knows how to install itself into the agent's hook
// configuration.
package agent

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Agent defines the per-agent surface Sentinel needs.
type Agent interface {
	// Name returns the agent identifier (e.g. "claude-code"). Also used as
	// the agent tag on decision requests.
	Name() string

	// Description returns a human-readable description for UI.
	Description() string

	// DetectPresence checks if this agent is configured in the repository.
	DetectPresence() (bool, error)

	// HookNames returns the hook verbs this agent supports. These become
	// subcommands: sentinel hooks <agent> <verb>.
	HookNames() []string

	// ParseHookInput parses the agent's native hook JSON from reader into
	// the normalized HookInput.
	ParseHookInput(hookType HookType, reader io.Reader) (*HookInput, error)

	// InstallHooks installs the Sentinel hook entries into the agent's
	// configuration. If localDev is true, hooks run "go run" instead of
	// the installed binary. Returns the number of hooks installed.
	InstallHooks(localDev bool) (int, error)

	// UninstallHooks removes the Sentinel hook entries.
	UninstallHooks() error

	// AreHooksInstalled checks if hooks are currently installed.
	AreHooksInstalled() bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Factory creates a new agent instance.
type Factory func() Agent

// Register adds an agent factory to the registry.
// Called from init() in each agent implementation.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves an agent by name.
//
//nolint:ireturn // Factory pattern requires returning the interface
func Get(name string) (Agent, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s (available: %v)", name, List())
	}
	return factory(), nil
}

// List returns all registered agent names in sorted order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agent name constants.
const (
	AgentNameClaudeCode = "claude-code"
)

// DefaultAgentName is the default when none specified.
const DefaultAgentName = AgentNameClaudeCode
