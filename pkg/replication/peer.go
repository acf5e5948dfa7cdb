package replication

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tesseradb/replication/pkg/validation"
)

// PeerState is the replication on/off switch for one peer.
type PeerState int8

const (
	// PeerStateDisabled stops shipping to the peer without dropping its
	// queues or configuration.
	PeerStateDisabled PeerState = iota
	// PeerStateEnabled means WAL data flows to the peer.
	PeerStateEnabled
)

// String returns the store representation of the state.
func (s PeerState) String() string {
	if s == PeerStateEnabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// ParsePeerState parses the store representation.
func ParsePeerState(raw string) (PeerState, error) {
	switch raw {
	case "ENABLED":
		return PeerStateEnabled, nil
	case "DISABLED":
		return PeerStateDisabled, nil
	default:
		return PeerStateDisabled, fmt.Errorf("unknown peer state %q", raw)
	}
}

// MarshalText persists the state by name, not by ordinal.
func (s PeerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PeerState) UnmarshalText(text []byte) error {
	state, err := ParsePeerState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// PeerConfig describes one remote cluster relationship. It is an immutable
// value: updates replace the whole config, never patch fields in place.
type PeerConfig struct {
	// ClusterKey locates the remote cluster as "host1,host2:port:/root".
	ClusterKey string `json:"clusterKey" validate:"required,clusterkey"`
	// Endpoint optionally names a custom replication endpoint
	// implementation.
	Endpoint string `json:"endpoint,omitempty" validate:"omitempty,max=256"`
	// Config carries arbitrary endpoint-specific settings.
	Config map[string]string `json:"config,omitempty"`
	// ReplicateAll ships every user table unless ExcludeFilters trims
	// the set. When false only TableFilters tables are shipped.
	ReplicateAll bool `json:"replicateAll"`
	// TableFilters maps table name to replicated column families; a nil
	// family list means all families.
	TableFilters map[string][]string `json:"tableFilters,omitempty"`
	// ExcludeFilters lists tables held back when ReplicateAll is set.
	ExcludeFilters map[string][]string `json:"excludeFilters,omitempty"`
	// Bandwidth caps shipping throughput in bytes per second, 0 meaning
	// unlimited.
	Bandwidth int64 `json:"bandwidth,omitempty" validate:"min=0"`
	// Serial preserves strict WAL order for bulk loads.
	Serial bool `json:"serial"`
}

// Validate checks syntactic and semantic rules before any store write.
func (c PeerConfig) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := validation.ValidateTableFilters(c.TableFilters); err != nil {
		return err
	}
	if err := validation.ValidateTableFilters(c.ExcludeFilters); err != nil {
		return err
	}
	if c.ReplicateAll && len(c.TableFilters) > 0 {
		return fmt.Errorf("replicateAll is set, table filters must be empty (use excludeFilters)")
	}
	if !c.ReplicateAll && len(c.ExcludeFilters) > 0 {
		return fmt.Errorf("replicateAll is not set, exclude filters must be empty (use tableFilters)")
	}
	return nil
}

// Clone returns a deep copy so cached configs cannot be mutated through
// shared maps.
func (c PeerConfig) Clone() PeerConfig {
	out := c
	if c.Config != nil {
		out.Config = make(map[string]string, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}
	out.TableFilters = cloneFilters(c.TableFilters)
	out.ExcludeFilters = cloneFilters(c.ExcludeFilters)
	return out
}

func cloneFilters(filters map[string][]string) map[string][]string {
	if filters == nil {
		return nil
	}
	out := make(map[string][]string, len(filters))
	for table, families := range filters {
		if families == nil {
			out[table] = nil
			continue
		}
		out[table] = append([]string(nil), families...)
	}
	return out
}

// MarshalPeerConfig serializes a config for the store.
func MarshalPeerConfig(c PeerConfig) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal peer config: %w", err)
	}
	return data, nil
}

// UnmarshalPeerConfig deserializes a config read from the store.
func UnmarshalPeerConfig(data []byte) (PeerConfig, error) {
	var c PeerConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return PeerConfig{}, fmt.Errorf("failed to unmarshal peer config: %w", err)
	}
	return c, nil
}

// Peer is the cached entity for one registered peer. The authoritative
// copy of config and state lives in the store; this cache lags until a
// refresh. The generation counter bumps on every refresh so readers can
// detect stale snapshots.
type Peer struct {
	id string

	mu         sync.RWMutex
	config     PeerConfig
	state      PeerState
	generation uint64
}

// NewPeer creates a cache entry from freshly loaded store data.
func NewPeer(id string, config PeerConfig, state PeerState) *Peer {
	return &Peer{id: id, config: config, state: state, generation: 1}
}

// ID returns the peer id.
func (p *Peer) ID() string {
	return p.id
}

// Config returns the last refreshed config.
func (p *Peer) Config() PeerConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// State returns the last refreshed state.
func (p *Peer) State() PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Enabled reports whether the cached state is ENABLED.
func (p *Peer) Enabled() bool {
	return p.State() == PeerStateEnabled
}

// Generation returns the refresh counter.
func (p *Peer) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// setState installs a freshly read state and bumps the generation.
func (p *Peer) setState(state PeerState) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.generation++
	return p.generation
}

// setConfig installs a freshly read config and bumps the generation.
func (p *Peer) setConfig(config PeerConfig) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.generation++
	return p.generation
}
