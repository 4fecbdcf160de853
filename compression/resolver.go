package compression

import (
	"log/slog"
	"slices"
	"sync"
)

// Provider answers compression queries for the archives it owns.
//
// FindCompressionInfo must be safe for concurrent use and must not modify
// the provider. Providers are compared by identity, so implementations are
// normally pointer types.
type Provider interface {
	FindCompressionInfo(path string) (Info, bool)
}

// Resolution is a successful lookup together with the provider that answered.
type Resolution struct {
	Info     Info
	Provider Provider
}

// Resolver dispatches compression queries to registered providers.
//
// Providers are consulted in registration order and the first one that
// reports a match wins; later providers are not queried. Queries may run
// concurrently with each other and with registration. A provider may
// register or unregister providers from inside FindCompressionInfo: the
// provider list is snapshotted before querying, so the change takes effect
// for the next query.
type Resolver struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for registration events.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns an empty Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Register appends p to the provider list. Registering a provider that is
// already present does nothing and returns false.
func (r *Resolver) Register(p Provider) bool {
	if p == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.providers, p) {
		return false
	}
	// Copy on write so snapshots held by in-flight queries stay valid.
	next := make([]Provider, len(r.providers), len(r.providers)+1)
	copy(next, r.providers)
	r.providers = append(next, p)
	r.log().Debug("compression provider registered", "providers", len(r.providers))
	return true
}

// Unregister removes p and reports whether it was registered.
func (r *Resolver) Unregister(p Provider) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.providers, p)
	if i < 0 {
		return false
	}
	next := make([]Provider, 0, len(r.providers)-1)
	next = append(next, r.providers[:i]...)
	r.providers = append(next, r.providers[i+1:]...)
	r.log().Debug("compression provider unregistered", "providers", len(r.providers))
	return true
}

// FindCompressionInfo returns the info reported by the first provider that
// knows path. A false result means no archive holds the path, which is the
// normal case for loose files.
func (r *Resolver) FindCompressionInfo(path string) (Info, bool) {
	res, ok := r.Resolve(path)
	return res.Info, ok
}

// Resolve is like FindCompressionInfo but also returns the provider that
// answered.
func (r *Resolver) Resolve(path string) (Resolution, bool) {
	for _, p := range r.snapshot() {
		if info, ok := p.FindCompressionInfo(path); ok {
			return Resolution{Info: info, Provider: p}, true
		}
	}
	return Resolution{}, false
}

// Providers returns the registered providers in query order.
func (r *Resolver) Providers() []Provider {
	return slices.Clone(r.snapshot())
}

// Len returns the number of registered providers.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func (r *Resolver) snapshot() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers
}
