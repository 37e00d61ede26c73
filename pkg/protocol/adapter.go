package protocol

import (
	"encoding/json"
	"sync"

	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
)

// Adapter translates between canonical methods and one wire dialect.
type Adapter interface {
	ProtocolName() string
	ProtocolVersion() string

	// NormalizeMethod maps a wire method name to its canonical form.
	NormalizeMethod(wire string) (Method, bool)
	// WireMethod maps a canonical method to the dialect's wire name.
	WireMethod(method Method) (string, bool)

	// Encode produces the JSON-RPC request for an envelope.
	Encode(env *Envelope) (*jsonrpc.Request, error)
	// Decode rebuilds an envelope from a wire request.
	Decode(req *jsonrpc.Request) (*Envelope, error)

	// DecodeStreamEvent parses one SSE line into the result payload or the
	// upstream error it carries.
	DecodeStreamEvent(line []byte) (json.RawMessage, *errors.RpcError)
}

// CardAdapter is the optional capability set for dialects that publish
// agent cards.
type CardAdapter interface {
	WellKnownPath() string
	ResolveCardURL(agent *a2a.Agent) string
	NormalizeCard(card a2a.Card) a2a.Card
	ValidCard(card a2a.Card) bool
}

type registryKey struct {
	protocol string
	version  string
}

// Registry is a static table of adapters keyed by (protocol, version).
// Adding a new dialect version adds an entry, never a branch at call
// sites.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
	latest   map[string]Adapter
}

// NewRegistry returns a registry preloaded with every built-in adapter.
func NewRegistry() *Registry {
	registry := &Registry{
		adapters: make(map[registryKey]Adapter),
		latest:   make(map[string]Adapter),
	}

	registry.Register(NewA2AAdapter())
	registry.Register(NewMCPAdapter())

	return registry
}

// Register adds an adapter. The most recently registered adapter per
// protocol becomes the version fallback.
func (registry *Registry) Register(adapter Adapter) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	key := registryKey{adapter.ProtocolName(), adapter.ProtocolVersion()}
	registry.adapters[key] = adapter
	registry.latest[adapter.ProtocolName()] = adapter
}

// Lookup resolves (protocol, version) to an adapter. Unknown versions fall
// back to the latest adapter for the protocol; unknown protocols default
// to A2A.
func (registry *Registry) Lookup(protocol, version string) Adapter {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	if protocol == "" {
		protocol = a2a.ProtocolA2A
	}

	if adapter, ok := registry.adapters[registryKey{protocol, version}]; ok {
		return adapter
	}
	if adapter, ok := registry.latest[protocol]; ok {
		return adapter
	}
	return registry.latest[a2a.ProtocolA2A]
}

// ForAgent resolves the adapter for a registered agent.
func (registry *Registry) ForAgent(agent *a2a.Agent) Adapter {
	return registry.Lookup(agent.EffectiveProtocol(), agent.ProtocolVersion)
}
