// Package registry names proxies so call sites can reach pools by
// string instead of threading pool handles through every layer.
//
// The intended lifecycle is: register every pool during startup, then
// serve lookups from any number of goroutines. Registration is not
// synchronized against concurrent lookups; finish Init calls before
// readers start.
package registry

import (
	"github.com/smartpool-go/smartpool/lib/errors"
	"github.com/smartpool-go/smartpool/lib/proxy"
)

// Registry maps pool names to their proxies.
type Registry struct {
	proxies map[string]*proxy.Proxy
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		proxies: make(map[string]*proxy.Proxy),
	}
}

// Init registers a proxy under its pool name. Registering a name twice
// returns ErrPoolExists; the original registration stays in place.
func (r *Registry) Init(p *proxy.Proxy) error {
	name := p.Name()
	if _, ok := r.proxies[name]; ok {
		log.WithField("pool", name).Error("duplicate pool registration")
		return errors.Wrap(name, errors.ErrPoolExists)
	}
	r.proxies[name] = p
	log.WithField("pool", name).Debug("pool registered")
	return nil
}

// Lookup returns the proxy registered under name, or ErrUnknownPool.
func (r *Registry) Lookup(name string) (*proxy.Proxy, error) {
	p, ok := r.proxies[name]
	if !ok {
		return nil, errors.Wrap(name, errors.ErrUnknownPool)
	}
	return p, nil
}

// Conn mints a fresh session on the named pool. This is the common
// call-site entry point:
//
//	sess, err := registry.Conn("main")
//	if err != nil { ... }
//	defer sess.End()
func (r *Registry) Conn(name string) (*proxy.Session, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return p.Session(), nil
}

// Names returns the registered pool names in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.proxies))
	for name := range r.proxies {
		names = append(names, name)
	}
	return names
}

// Close closes every registered pool and reports the joined errors.
func (r *Registry) Close() error {
	var errs []error
	for name, p := range r.proxies {
		if err := p.Pool().Close(); err != nil {
			errs = append(errs, errors.Wrap(name, err))
		}
	}
	return errors.Join(errs...)
}

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Init registers a proxy in the default registry.
func Init(p *proxy.Proxy) error {
	return defaultRegistry.Init(p)
}

// Lookup finds a proxy in the default registry.
func Lookup(name string) (*proxy.Proxy, error) {
	return defaultRegistry.Lookup(name)
}

// Conn mints a session on a pool in the default registry.
func Conn(name string) (*proxy.Session, error) {
	return defaultRegistry.Conn(name)
}
