package connector

import (
	"context"
	"sort"
	"sync"
)

// Creator builds a connector instance on demand.
type Creator func() (PlatformConnector, error)

// Registry maps connector ids to instances. The registry owns instances;
// callers look connectors up by id each time so an instance can be
// replaced without invalidating anyone.
type Registry struct {
	mu        sync.RWMutex
	creators  map[string]Creator
	instances map[string]PlatformConnector
}

func NewRegistry() *Registry {
	return &Registry{
		creators:  make(map[string]Creator),
		instances: make(map[string]PlatformConnector),
	}
}

func (r *Registry) Register(connectorID string, creator Creator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[connectorID] = creator
}

// Create instantiates and initializes the connector registered under
// connectorID and takes ownership of the instance.
func (r *Registry) Create(ctx context.Context, connectorID string) (PlatformConnector, error) {
	r.mu.RLock()
	creator, ok := r.creators[connectorID]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(connectorID, CategoryNotFound, "connector not registered", nil)
	}

	instance, err := creator()
	if err != nil {
		return nil, NewError(connectorID, CategoryCreationError, "failed to create connector", err)
	}
	if err := instance.Initialize(ctx); err != nil {
		return nil, NewError(connectorID, CategoryCreationError, "failed to initialize connector", err)
	}

	r.mu.Lock()
	r.instances[connectorID] = instance
	r.mu.Unlock()
	return instance, nil
}

func (r *Registry) Get(connectorID string) (PlatformConnector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[connectorID]
	return instance, ok
}

func (r *Registry) IsRegistered(connectorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.creators[connectorID]
	return ok
}

func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.creators))
	for id := range r.creators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ShutdownAll stops every owned instance.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, instance := range r.instances {
		_ = instance.Shutdown(ctx)
	}
	r.instances = make(map[string]PlatformConnector)
}
