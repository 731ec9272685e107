package dcb

import "sync"

// ProtocolRegistry resolves a named protocol module to its operation table,
// per spec.md §4.6 point 2. Registration is expected at process start,
// before any Connect/Accept call; Register panics on a duplicate
// name since that is a programmer error, not a runtime condition.
type ProtocolRegistry struct {
	mu    sync.RWMutex
	table map[string]*ProtocolOps
}

// NewProtocolRegistry creates an empty protocol registry.
func NewProtocolRegistry() *ProtocolRegistry {
	return &ProtocolRegistry{table: make(map[string]*ProtocolOps)}
}

// Register installs ops under name. Panics if ops is nil or name is
// already registered.
func (p *ProtocolRegistry) Register(name string, ops *ProtocolOps) {
	if ops == nil {
		panic("dcb: nil ProtocolOps for protocol " + name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.table[name]; exists {
		panic("dcb: protocol already registered: " + name)
	}
	p.table[name] = ops
}

// Resolve looks up a protocol module by name.
func (p *ProtocolRegistry) Resolve(name string) (*ProtocolOps, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ops, ok := p.table[name]
	return ops, ok
}
