package replication

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/validation"
)

// Registry is the read-through peer cache. Writes go to the store first
// and mutate the cache only after the store accepted them; Enable and
// Disable touch the store alone, leaving the cache stale until an explicit
// refresh (typically triggered by a change notification).
type Registry struct {
	storage *PeerStorage
	logger  logging.Logger
	metrics *metrics.Registry

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewRegistry creates an empty registry on top of the given peer storage.
func NewRegistry(storage *PeerStorage, logger logging.Logger, m *metrics.Registry) *Registry {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	return &Registry{
		storage: storage,
		logger:  logger.With(logging.Component("peer-registry")),
		metrics: m,
		peers:   make(map[string]*Peer),
	}
}

// Init populates the cache from the store. A peer that fails to load is
// logged and skipped so one corrupt entry cannot take down the rest.
func (r *Registry) Init(ctx context.Context) error {
	ids, err := r.storage.ListPeerIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize peer registry: %w", err)
	}

	loaded := 0
	for _, id := range ids {
		if err := r.loadPeer(ctx, id); err != nil {
			r.logger.Error("skipping unloadable peer",
				logging.PeerID(id),
				logging.Error(err))
			continue
		}
		loaded++
	}

	r.updatePeerGauges()
	r.logger.Info("peer registry initialized",
		logging.Count(loaded),
		logging.Int("skipped", len(ids)-loaded))
	return nil
}

func (r *Registry) loadPeer(ctx context.Context, id string) error {
	config, err := r.storage.ReadPeerConfig(ctx, id)
	if err != nil {
		return err
	}
	state, err := r.storage.ReadPeerState(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.peers[id] = NewPeer(id, config, state)
	r.mu.Unlock()
	return nil
}

// Register validates and persists a new peer, then inserts it into the
// cache. New peers start enabled.
func (r *Registry) Register(ctx context.Context, id string, config PeerConfig) error {
	if err := validation.ValidatePeerID(id); err != nil {
		r.metrics.RecordPeerOperation("register", "invalid")
		return InvalidPeerConfigError(id, err)
	}
	if err := config.Validate(); err != nil {
		r.metrics.RecordPeerOperation("register", "invalid")
		return InvalidPeerConfigError(id, err)
	}

	r.mu.RLock()
	_, cached := r.peers[id]
	r.mu.RUnlock()
	if cached {
		r.metrics.RecordPeerOperation("register", "duplicate")
		return DuplicatePeerError("RegisterPeer", id)
	}

	if err := r.storage.CreatePeer(ctx, id, config, PeerStateEnabled); err != nil {
		if !IsDuplicatePeer(err) {
			r.metrics.RecordPeerOperation("register", "error")
			return err
		}
		r.metrics.RecordPeerOperation("register", "duplicate")
		return err
	}

	r.mu.Lock()
	r.peers[id] = NewPeer(id, config.Clone(), PeerStateEnabled)
	r.mu.Unlock()

	r.updatePeerGauges()
	r.metrics.RecordPeerOperation("register", "success")
	r.logger.Info("registered peer",
		logging.PeerID(id),
		logging.String("cluster_key", config.ClusterKey))
	return nil
}

// Unregister removes a peer from the store and the cache. Cascading
// cleanup of queues and HFile refs is the modification procedure's job.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.RLock()
	_, cached := r.peers[id]
	r.mu.RUnlock()
	if !cached {
		r.metrics.RecordPeerOperation("unregister", "not_found")
		return PeerNotFoundError("UnregisterPeer", id)
	}

	if err := r.storage.DeletePeer(ctx, id); err != nil && !IsPeerNotFound(err) {
		r.metrics.RecordPeerOperation("unregister", "error")
		return err
	}

	r.mu.Lock()
	delete(r.peers, id)
	r.mu.Unlock()

	r.updatePeerGauges()
	r.metrics.RecordPeerOperation("unregister", "success")
	r.logger.Info("unregistered peer", logging.PeerID(id))
	return nil
}

// Enable flips the peer to ENABLED in the store. The cached state stays
// as-is until RefreshState.
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.writeState(ctx, "enable", id, PeerStateEnabled)
}

// Disable flips the peer to DISABLED in the store. The cached state stays
// as-is until RefreshState.
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.writeState(ctx, "disable", id, PeerStateDisabled)
}

func (r *Registry) writeState(ctx context.Context, op, id string, state PeerState) error {
	r.mu.RLock()
	_, cached := r.peers[id]
	r.mu.RUnlock()
	if !cached {
		r.metrics.RecordPeerOperation(op, "not_found")
		return PeerNotFoundError("WritePeerState", id)
	}

	if err := r.storage.WritePeerState(ctx, id, state); err != nil {
		r.metrics.RecordPeerOperation(op, "error")
		return err
	}
	r.metrics.RecordPeerOperation(op, "success")
	r.logger.Info("wrote peer state",
		logging.PeerID(id),
		logging.State(state.String()))
	return nil
}

// UpdateConfig replaces the peer's config in the store. The cached config
// stays as-is until RefreshConfig.
func (r *Registry) UpdateConfig(ctx context.Context, id string, config PeerConfig) error {
	if err := config.Validate(); err != nil {
		r.metrics.RecordPeerOperation("update_config", "invalid")
		return InvalidPeerConfigError(id, err)
	}

	r.mu.RLock()
	_, cached := r.peers[id]
	r.mu.RUnlock()
	if !cached {
		r.metrics.RecordPeerOperation("update_config", "not_found")
		return PeerNotFoundError("UpdatePeerConfig", id)
	}

	if err := r.storage.UpdatePeerConfig(ctx, id, config); err != nil {
		r.metrics.RecordPeerOperation("update_config", "error")
		return err
	}
	r.metrics.RecordPeerOperation("update_config", "success")
	r.logger.Info("updated peer config", logging.PeerID(id))
	return nil
}

// RefreshState re-reads the peer's state from the store into the cache and
// bumps the peer's generation.
func (r *Registry) RefreshState(ctx context.Context, id string) error {
	peer, err := r.peer(id, "RefreshPeerState")
	if err != nil {
		return err
	}
	state, err := r.storage.ReadPeerState(ctx, id)
	if err != nil {
		return err
	}
	gen := peer.setState(state)
	r.updatePeerGauges()
	r.metrics.RecordPeerRefresh()
	r.logger.Debug("refreshed peer state",
		logging.PeerID(id),
		logging.State(state.String()),
		logging.Uint64("generation", gen))
	return nil
}

// RefreshConfig re-reads the peer's config from the store into the cache
// and bumps the peer's generation.
func (r *Registry) RefreshConfig(ctx context.Context, id string) error {
	peer, err := r.peer(id, "RefreshPeerConfig")
	if err != nil {
		return err
	}
	config, err := r.storage.ReadPeerConfig(ctx, id)
	if err != nil {
		return err
	}
	gen := peer.setConfig(config)
	r.metrics.RecordPeerRefresh()
	r.logger.Debug("refreshed peer config",
		logging.PeerID(id),
		logging.Uint64("generation", gen))
	return nil
}

// Track loads a peer someone else registered into this registry's cache.
// Tracking an already cached peer is a no-op; use RefreshState or
// RefreshConfig to update it.
func (r *Registry) Track(ctx context.Context, id string) error {
	r.mu.RLock()
	_, cached := r.peers[id]
	r.mu.RUnlock()
	if cached {
		return nil
	}
	if err := r.loadPeer(ctx, id); err != nil {
		return err
	}
	r.updatePeerGauges()
	r.logger.Info("tracking peer", logging.PeerID(id))
	return nil
}

// Untrack drops a peer from the cache without touching the store. Used when
// another coordinator unregistered the peer.
func (r *Registry) Untrack(id string) {
	r.mu.Lock()
	_, cached := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()
	if cached {
		r.updatePeerGauges()
		r.logger.Info("stopped tracking peer", logging.PeerID(id))
	}
}

// IsEnabled reads the cached state only; it may lag the store.
func (r *Registry) IsEnabled(id string) (bool, error) {
	peer, err := r.peer(id, "IsPeerEnabled")
	if err != nil {
		return false, err
	}
	return peer.Enabled(), nil
}

// GetPeer returns the cached entry for id.
func (r *Registry) GetPeer(id string) (*Peer, error) {
	return r.peer(id, "GetPeer")
}

// GetConfig returns the cached config for id.
func (r *Registry) GetConfig(id string) (PeerConfig, error) {
	peer, err := r.peer(id, "GetPeerConfig")
	if err != nil {
		return PeerConfig{}, err
	}
	return peer.Config(), nil
}

// PeerIDs returns a sorted snapshot of cached peer ids.
func (r *Registry) PeerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PeerConfigs returns a snapshot of cached configs keyed by peer id.
func (r *Registry) PeerConfigs() map[string]PeerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make(map[string]PeerConfig, len(r.peers))
	for id, peer := range r.peers {
		configs[id] = peer.Config()
	}
	return configs
}

// Count returns the number of cached peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// StateCounts returns how many cached peers are enabled and disabled.
func (r *Registry) StateCounts() (enabled, disabled int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, peer := range r.peers {
		if peer.Enabled() {
			enabled++
		} else {
			disabled++
		}
	}
	return enabled, disabled
}

func (r *Registry) peer(id, op string) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[id]
	if !ok {
		return nil, PeerNotFoundError(op, id)
	}
	return peer, nil
}

func (r *Registry) updatePeerGauges() {
	r.mu.RLock()
	enabled, disabled := 0, 0
	for _, peer := range r.peers {
		if peer.Enabled() {
			enabled++
		} else {
			disabled++
		}
	}
	r.mu.RUnlock()
	r.metrics.SetPeerCounts(enabled, disabled)
}
