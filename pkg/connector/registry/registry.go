package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// AdapterFactory creates the client adapter of a connector from its
// descriptor and resolved credentials.
type AdapterFactory func(ctx context.Context, descriptor *models.ConnectorDescriptor, creds secrets.Credentials) (core.ClientAdapter, error)

// Registry holds connector descriptors and the adapter factories of each
// system family. Reads run concurrently; Register is an exclusive writer.
type Registry struct {
	descriptors map[string]*models.ConnectorDescriptor
	generations map[string]uint64
	families    map[string]AdapterFactory
	adapters    map[string]*adapterLease
	resolver    secrets.Resolver
	mu          sync.RWMutex
	logger      *zap.Logger
}

// adapterLease tracks who holds an adapter. A retired adapter is closed
// once its last holder releases it.
type adapterLease struct {
	adapter    core.ClientAdapter
	generation uint64
	holders    int
	retired    bool
}

// NewRegistry creates a new connector registry
func NewRegistry(resolver secrets.Resolver) *Registry {
	if resolver == nil {
		resolver = secrets.NewStaticResolver(nil)
	}
	return &Registry{
		descriptors: make(map[string]*models.ConnectorDescriptor),
		generations: make(map[string]uint64),
		families:    make(map[string]AdapterFactory),
		adapters:    make(map[string]*adapterLease),
		resolver:    resolver,
		logger:      logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterFamily registers the adapter factory of a system family
func (r *Registry) RegisterFamily(family string, factory AdapterFactory) error {
	if family == "" || factory == nil {
		return errors.New(errors.ErrorTypeValidation, "family name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.families[family]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector family %s already registered", family))
	}

	r.families[family] = factory
	r.logger.Info("connector family registered", zap.String("family", family))
	return nil
}

// Families returns the registered family names, sorted
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	families := make([]string, 0, len(r.families))
	for name := range r.families {
		families = append(families, name)
	}
	sort.Strings(families)
	return families
}

// Register validates and stores a descriptor, replacing any previous
// descriptor with the same id
func (r *Registry) Register(descriptor *models.ConnectorDescriptor) error {
	if err := Validate(descriptor); err != nil {
		return err
	}
	stored := descriptor.Clone()

	r.mu.Lock()
	_, replaced := r.descriptors[stored.ID]
	r.descriptors[stored.ID] = stored
	r.generations[stored.ID]++
	idle := r.retireLocked(stored.ID)
	r.mu.Unlock()

	if idle != nil {
		r.closeAdapter(stored.ID, idle)
	}

	r.logger.Info("connector registered",
		zap.String("connector_id", stored.ID),
		zap.String("family", stored.Family),
		zap.Bool("active", stored.Active),
		zap.Bool("replaced", replaced))
	return nil
}

// Get returns a copy of the descriptor
func (r *Registry) Get(id string) (*models.ConnectorDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", id)).
			WithDetail("connector_id", id)
	}
	return d.Clone(), nil
}

// ListActive returns copies of all active descriptors
func (r *Registry) ListActive() []*models.ConnectorDescriptor {
	return r.list(true)
}

// List returns copies of all descriptors
func (r *Registry) List() []*models.ConnectorDescriptor {
	return r.list(false)
}

func (r *Registry) list(activeOnly bool) []*models.ConnectorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ConnectorDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Acquire returns the client adapter of a connector, building it on first
// use, and a release func the caller must call when done with it. Replacing
// the descriptor retires the adapter; it is closed after the last release.
func (r *Registry) Acquire(ctx context.Context, id string) (core.ClientAdapter, func(), error) {
	r.mu.Lock()
	if lease, ok := r.adapters[id]; ok {
		lease.holders++
		r.mu.Unlock()
		return lease.adapter, r.releaser(id, lease), nil
	}
	descriptor, ok := r.descriptors[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", id))
	}
	descriptor = descriptor.Clone()
	generation := r.generations[id]
	factory, ok := r.families[descriptor.Family]
	r.mu.Unlock()

	if !ok {
		return nil, nil, errors.New(errors.ErrorTypeInvalidRequest,
			fmt.Sprintf("no adapter registered for connector family %q", descriptor.Family)).
			WithDetail("connector_id", id)
	}

	creds, err := r.resolver.Resolve(ctx, descriptor.CredentialRef)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInvalidRequest,
			fmt.Sprintf("failed to resolve credentials of connector %s", id))
	}

	adapter, err := factory(ctx, descriptor, creds)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.GetType(err), fmt.Sprintf("failed to create adapter for connector %s", id))
	}

	r.mu.Lock()
	if lease, ok := r.adapters[id]; ok {
		lease.holders++
		r.mu.Unlock()
		r.closeAdapter(id, adapter)
		return lease.adapter, r.releaser(id, lease), nil
	}
	lease := &adapterLease{adapter: adapter, generation: generation, holders: 1}
	if r.generations[id] != generation {
		// Descriptor replaced while building; the adapter lives only as long
		// as this caller holds it.
		lease.retired = true
	} else {
		r.adapters[id] = lease
	}
	r.mu.Unlock()

	return adapter, r.releaser(id, lease), nil
}

func (r *Registry) releaser(id string, lease *adapterLease) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			lease.holders--
			closeNow := lease.retired && lease.holders == 0
			r.mu.Unlock()
			if closeNow {
				r.closeAdapter(id, lease.adapter)
			}
		})
	}
}

// retireLocked drops the cached adapter of id and returns it when nobody
// holds it. Callers hold r.mu.
func (r *Registry) retireLocked(id string) core.ClientAdapter {
	lease, ok := r.adapters[id]
	if !ok {
		return nil
	}
	delete(r.adapters, id)
	lease.retired = true
	if lease.holders > 0 {
		r.logger.Debug("adapter retired while in use", zap.String("connector_id", id), zap.Int("holders", lease.holders))
		return nil
	}
	return lease.adapter
}

// Close retires every cached adapter. Idle adapters are closed now, held
// ones when released.
func (r *Registry) Close() error {
	r.mu.Lock()
	idle := make(map[string]core.ClientAdapter)
	for id := range r.adapters {
		if adapter := r.retireLocked(id); adapter != nil {
			idle[id] = adapter
		}
	}
	r.mu.Unlock()

	for id, adapter := range idle {
		r.closeAdapter(id, adapter)
	}
	return nil
}

func (r *Registry) closeAdapter(id string, adapter core.ClientAdapter) {
	if err := adapter.Close(); err != nil {
		r.logger.Warn("failed to close adapter", zap.String("connector_id", id), zap.Error(err))
	}
}
