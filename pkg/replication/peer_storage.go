package replication

import (
	"context"
	"fmt"

	"github.com/tesseradb/replication/pkg/coordstore"
)

// PeerStorage is the durable half of the peer registry. All values go
// through the framing codec so corruption is caught on read.
type PeerStorage struct {
	store  coordstore.Store
	layout layout
}

// NewPeerStorage creates peer storage rooted at base ("" selects
// DefaultBasePath).
func NewPeerStorage(store coordstore.Store, base string) *PeerStorage {
	return &PeerStorage{store: store, layout: newLayout(base)}
}

// ListPeerIDs returns every peer id present in the store.
func (s *PeerStorage) ListPeerIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.List(ctx, s.layout.peersRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return ids, nil
}

// CreatePeer persists a new peer's config and initial state in one atomic
// batch. Returns ErrDuplicatePeer if the id is already present.
func (s *PeerStorage) CreatePeer(ctx context.Context, id string, config PeerConfig, state PeerState) error {
	configData, err := MarshalPeerConfig(config)
	if err != nil {
		return err
	}
	err = s.store.MultiOp(ctx, []coordstore.Op{
		coordstore.CreateOp(s.layout.peerKey(id), coordstore.EncodeValue(configData)),
		coordstore.SetOp(s.layout.peerStateKey(id), coordstore.EncodeValue([]byte(state.String()))),
	})
	if err != nil {
		if coordstore.IsAlreadyExists(err) {
			return DuplicatePeerError("CreatePeer", id)
		}
		return fmt.Errorf("failed to create peer %s: %w", id, err)
	}
	return nil
}

// ReadPeerConfig loads a peer's config. Returns ErrPeerNotFound if the
// peer is not in the store.
func (s *PeerStorage) ReadPeerConfig(ctx context.Context, id string) (PeerConfig, error) {
	framed, err := s.store.Get(ctx, s.layout.peerKey(id))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return PeerConfig{}, PeerNotFoundError("ReadPeerConfig", id)
		}
		return PeerConfig{}, fmt.Errorf("failed to read peer %s config: %w", id, err)
	}
	data, err := coordstore.DecodeValue(framed)
	if err != nil {
		return PeerConfig{}, fmt.Errorf("failed to decode peer %s config: %w", id, err)
	}
	return UnmarshalPeerConfig(data)
}

// ReadPeerState loads a peer's state. Returns ErrPeerNotFound if the peer
// is not in the store.
func (s *PeerStorage) ReadPeerState(ctx context.Context, id string) (PeerState, error) {
	framed, err := s.store.Get(ctx, s.layout.peerStateKey(id))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return PeerStateDisabled, PeerNotFoundError("ReadPeerState", id)
		}
		return PeerStateDisabled, fmt.Errorf("failed to read peer %s state: %w", id, err)
	}
	data, err := coordstore.DecodeValue(framed)
	if err != nil {
		return PeerStateDisabled, fmt.Errorf("failed to decode peer %s state: %w", id, err)
	}
	return ParsePeerState(string(data))
}

// WritePeerState persists a state flip. The cache is deliberately not
// touched here; callers refresh afterwards.
func (s *PeerStorage) WritePeerState(ctx context.Context, id string, state PeerState) error {
	err := s.store.Set(ctx, s.layout.peerStateKey(id), coordstore.EncodeValue([]byte(state.String())))
	if err != nil {
		return fmt.Errorf("failed to write peer %s state: %w", id, err)
	}
	return nil
}

// UpdatePeerConfig replaces a peer's config wholesale.
func (s *PeerStorage) UpdatePeerConfig(ctx context.Context, id string, config PeerConfig) error {
	data, err := MarshalPeerConfig(config)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.layout.peerKey(id), coordstore.EncodeValue(data)); err != nil {
		return fmt.Errorf("failed to update peer %s config: %w", id, err)
	}
	return nil
}

// DeletePeer removes a peer's config and state subtree. Returns
// ErrPeerNotFound if the peer is not in the store.
func (s *PeerStorage) DeletePeer(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, s.layout.peerKey(id))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return PeerNotFoundError("DeletePeer", id)
		}
		return fmt.Errorf("failed to delete peer %s: %w", id, err)
	}
	return nil
}

// PeerExists reports whether the peer id is present in the store.
func (s *PeerStorage) PeerExists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.Get(ctx, s.layout.peerKey(id))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check peer %s: %w", id, err)
	}
	return true, nil
}
