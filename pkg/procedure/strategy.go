package procedure

import (
	"context"
	"fmt"

	"github.com/tesseradb/replication/pkg/replication"
	"github.com/tesseradb/replication/pkg/validation"
)

// strategy is the operation-specific part of the state machine. Check runs
// during PRE_MODIFICATION, Apply during STORAGE_UPDATE, Rollback when Apply
// failed non-transiently.
//
// Apply must be idempotent: the retry loop re-runs it in place, and after a
// coordinator crash it runs again with resume set. Finding the mutation
// already applied is success, not an error.
//
// Compensation state (what Apply replaced) lives on the Record, which is
// persisted at every transition. A Rollback entered after a crash therefore
// works from the record, not from memory lost with the previous process.
type strategy interface {
	Check(ctx context.Context) error
	Apply(ctx context.Context, resume bool) error
	Rollback(ctx context.Context) error
}

// newStrategy builds the strategy matching a record's operation kind.
func newStrategy(record *Record, registry *replication.Registry, ledger *replication.QueueLedger) (strategy, error) {
	switch record.Kind {
	case OpAdd:
		if record.Config == nil {
			return nil, fmt.Errorf("ADD procedure for peer %q carries no config", record.PeerID)
		}
		return &addStrategy{registry: registry, ledger: ledger, record: record}, nil
	case OpRemove:
		return &removeStrategy{registry: registry, ledger: ledger, record: record}, nil
	case OpEnable:
		return &setStateStrategy{registry: registry, record: record, target: replication.PeerStateEnabled}, nil
	case OpDisable:
		return &setStateStrategy{registry: registry, record: record, target: replication.PeerStateDisabled}, nil
	case OpUpdateConfig:
		if record.Config == nil {
			return nil, fmt.Errorf("UPDATE_CONFIG procedure for peer %q carries no config", record.PeerID)
		}
		return &updateConfigStrategy{registry: registry, record: record}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %d", record.Kind)
	}
}

// addStrategy registers a new peer and creates its bulk-load ref container.
type addStrategy struct {
	registry *replication.Registry
	ledger   *replication.QueueLedger
	record   *Record
}

func (s *addStrategy) Check(ctx context.Context) error {
	if err := validation.ValidatePeerID(s.record.PeerID); err != nil {
		return replication.InvalidPeerConfigError(s.record.PeerID, err)
	}
	if err := s.record.Config.Validate(); err != nil {
		return replication.InvalidPeerConfigError(s.record.PeerID, err)
	}
	if _, err := s.registry.GetPeer(s.record.PeerID); err == nil {
		return replication.DuplicatePeerError("add peer", s.record.PeerID)
	}
	return nil
}

func (s *addStrategy) Apply(ctx context.Context, resume bool) error {
	err := s.registry.Register(ctx, s.record.PeerID, *s.record.Config)
	switch {
	case err == nil:
		s.record.Applied = true
	case replication.IsDuplicatePeer(err) && (resume || s.record.Applied):
		// A previous attempt already registered the peer.
	default:
		return err
	}
	return s.ledger.AddPeerToHFileRefs(ctx, s.record.PeerID)
}

func (s *addStrategy) Rollback(ctx context.Context) error {
	if err := s.ledger.RemovePeerFromHFileRefs(ctx, s.record.PeerID); err != nil {
		return err
	}
	if err := s.registry.Unregister(ctx, s.record.PeerID); err != nil && !replication.IsPeerNotFound(err) {
		return err
	}
	return nil
}

// removeStrategy unregisters a peer and sweeps everything replicating to it:
// its queues on every replicator, recovered incarnations included, and its
// bulk-load ref container.
type removeStrategy struct {
	registry *replication.Registry
	ledger   *replication.QueueLedger
	record   *Record
}

func (s *removeStrategy) Check(ctx context.Context) error {
	_, err := s.registry.GetPeer(s.record.PeerID)
	return err
}

func (s *removeStrategy) Apply(ctx context.Context, resume bool) error {
	// Capture the peer for rollback while it still exists. On resume it may
	// already be gone, which also means there is nothing left to restore.
	if s.record.PrevConfig == nil {
		config, err := s.registry.GetConfig(s.record.PeerID)
		switch {
		case err == nil:
			prev := replication.PeerStateDisabled
			if enabled, _ := s.registry.IsEnabled(s.record.PeerID); enabled {
				prev = replication.PeerStateEnabled
			}
			s.record.PrevConfig = &config
			s.record.PrevState = &prev
		case resume && replication.IsPeerNotFound(err):
		default:
			return err
		}
	}

	if err := s.registry.Unregister(ctx, s.record.PeerID); err != nil && !replication.IsPeerNotFound(err) {
		return err
	}
	s.record.Applied = true

	// The swept queues and refs are not restorable; their removal comes
	// last so a retried attempt loses as little as possible.
	if err := s.ledger.RemoveAllQueues(ctx, s.record.PeerID); err != nil {
		return err
	}
	return s.ledger.RemovePeerFromHFileRefs(ctx, s.record.PeerID)
}

func (s *removeStrategy) Rollback(ctx context.Context) error {
	if !s.record.Applied || s.record.PrevConfig == nil {
		return nil
	}
	if err := s.registry.Register(ctx, s.record.PeerID, *s.record.PrevConfig); err != nil && !replication.IsDuplicatePeer(err) {
		return err
	}
	if s.record.PrevState != nil && *s.record.PrevState == replication.PeerStateDisabled {
		return s.registry.Disable(ctx, s.record.PeerID)
	}
	return nil
}

// setStateStrategy flips a peer's durable state flag. ENABLE and DISABLE are
// the same machine with a different target state.
type setStateStrategy struct {
	registry *replication.Registry
	record   *Record
	target   replication.PeerState
}

func (s *setStateStrategy) Check(ctx context.Context) error {
	_, err := s.registry.GetPeer(s.record.PeerID)
	return err
}

func (s *setStateStrategy) Apply(ctx context.Context, resume bool) error {
	if s.record.PrevState == nil {
		// Pull the durable state so rollback restores what was really
		// stored, not a stale cache view.
		if err := s.registry.RefreshState(ctx, s.record.PeerID); err != nil {
			return err
		}
		enabled, err := s.registry.IsEnabled(s.record.PeerID)
		if err != nil {
			return err
		}
		prev := replication.PeerStateDisabled
		if enabled {
			prev = replication.PeerStateEnabled
		}
		s.record.PrevState = &prev
	}

	var err error
	if s.target == replication.PeerStateEnabled {
		err = s.registry.Enable(ctx, s.record.PeerID)
	} else {
		err = s.registry.Disable(ctx, s.record.PeerID)
	}
	if err != nil {
		return err
	}
	s.record.Applied = true
	return nil
}

func (s *setStateStrategy) Rollback(ctx context.Context) error {
	if !s.record.Applied || s.record.PrevState == nil || *s.record.PrevState == s.target {
		return nil
	}
	if *s.record.PrevState == replication.PeerStateEnabled {
		return s.registry.Enable(ctx, s.record.PeerID)
	}
	return s.registry.Disable(ctx, s.record.PeerID)
}

// updateConfigStrategy replaces a peer's config wholesale. The cluster key
// and endpoint of an existing peer are immutable: changing either would
// silently point the peer at a different cluster, so both are rejected.
type updateConfigStrategy struct {
	registry *replication.Registry
	record   *Record
}

func (s *updateConfigStrategy) Check(ctx context.Context) error {
	if err := s.record.Config.Validate(); err != nil {
		return replication.InvalidPeerConfigError(s.record.PeerID, err)
	}
	current, err := s.registry.GetConfig(s.record.PeerID)
	if err != nil {
		return err
	}
	if current.ClusterKey != s.record.Config.ClusterKey {
		return replication.InvalidPeerConfigError(s.record.PeerID,
			fmt.Errorf("cluster key cannot change on update: %q -> %q", current.ClusterKey, s.record.Config.ClusterKey))
	}
	if current.Endpoint != s.record.Config.Endpoint {
		return replication.InvalidPeerConfigError(s.record.PeerID,
			fmt.Errorf("endpoint cannot change on update: %q -> %q", current.Endpoint, s.record.Config.Endpoint))
	}
	return nil
}

func (s *updateConfigStrategy) Apply(ctx context.Context, resume bool) error {
	if s.record.PrevConfig == nil {
		current, err := s.registry.GetConfig(s.record.PeerID)
		if err != nil {
			return err
		}
		s.record.PrevConfig = &current
	}
	if err := s.registry.UpdateConfig(ctx, s.record.PeerID, *s.record.Config); err != nil {
		return err
	}
	s.record.Applied = true
	return nil
}

func (s *updateConfigStrategy) Rollback(ctx context.Context) error {
	if !s.record.Applied || s.record.PrevConfig == nil {
		return nil
	}
	return s.registry.UpdateConfig(ctx, s.record.PeerID, *s.record.PrevConfig)
}
