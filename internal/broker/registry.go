package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfleet/engine/internal/errs"
	"go.uber.org/zap"
)

// Registry maps broker names to factories and live handles. Lookup never
// blocks; Connect may.
type Registry struct {
	logger *zap.Logger

	mu          sync.RWMutex
	factories   map[string]Factory
	handles     map[string]Broker
	priority    []string // connection order; disconnect walks it in reverse
	defaultName string
}

// NewRegistry creates an empty broker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("broker-registry"),
		factories: make(map[string]Factory),
		handles:   make(map[string]Broker),
	}
}

// RegisterFactory makes a broker constructible under name. Re-registering
// a name is a programmer error.
func (r *Registry) RegisterFactory(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errs.New(errs.KindConstraint, "broker-registry", "register",
			fmt.Sprintf("factory %q already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// Connect instantiates and connects the named broker. The first successful
// connection becomes the default.
func (r *Registry) Connect(ctx context.Context, name string, cfg map[string]string) (Broker, error) {
	r.mu.RLock()
	factory, known := r.factories[name]
	_, connected := r.handles[name]
	r.mu.RUnlock()

	if !known {
		return nil, errs.Wrap(errs.ErrUnknownBroker, errs.KindClient, "broker-registry", "connect", name)
	}
	if connected {
		return nil, errs.Wrap(errs.ErrAlreadyConnected, errs.KindConstraint, "broker-registry", "connect", name)
	}

	handle, err := factory(r.logger, cfg)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "broker-registry", "connect",
			fmt.Sprintf("constructing %q", name))
	}
	if err := handle.Connect(ctx); err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "broker-registry", "connect",
			fmt.Sprintf("connection to %q failed", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, raced := r.handles[name]; raced {
		// A concurrent Connect won; drop ours.
		go func() { _ = handle.Disconnect(context.Background()) }()
		return nil, errs.Wrap(errs.ErrAlreadyConnected, errs.KindConstraint, "broker-registry", "connect", name)
	}
	r.handles[name] = handle
	r.priority = append(r.priority, name)
	if r.defaultName == "" {
		r.defaultName = name
	}

	r.logger.Info("Broker connected",
		zap.String("broker", name),
		zap.Bool("default", r.defaultName == name))

	return handle, nil
}

// Get returns a connected handle by name.
func (r *Registry) Get(name string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.handles[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotConnected, errs.KindClient, "broker-registry", "get", name)
	}
	return handle, nil
}

// Default returns the default broker handle.
func (r *Registry) Default() (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultName == "" {
		return nil, errs.Wrap(errs.ErrNotConnected, errs.KindClient, "broker-registry", "default", "no broker connected")
	}
	return r.handles[r.defaultName], nil
}

// SetDefault switches the default broker to a connected handle.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[name]; !ok {
		return errs.Wrap(errs.ErrNotConnected, errs.KindClient, "broker-registry", "set-default", name)
	}
	r.defaultName = name
	return nil
}

// Connected lists connected broker names in priority order.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.priority...)
}

// DisconnectAll disconnects every broker in reverse priority order,
// collecting errors instead of stopping.
func (r *Registry) DisconnectAll(ctx context.Context) []error {
	r.mu.Lock()
	handles := make([]Broker, 0, len(r.priority))
	for i := len(r.priority) - 1; i >= 0; i-- {
		handles = append(handles, r.handles[r.priority[i]])
	}
	r.handles = make(map[string]Broker)
	r.priority = nil
	r.defaultName = ""
	r.mu.Unlock()

	var errors []error
	for _, h := range handles {
		if err := h.Disconnect(ctx); err != nil {
			r.logger.Warn("Broker disconnect failed",
				zap.String("broker", h.Name()),
				zap.Error(err))
			errors = append(errors, errs.Wrap(err, errs.KindExternal, "broker-registry", "disconnect", h.Name()))
		}
	}
	return errors
}
