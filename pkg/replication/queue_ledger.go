package replication

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
)

// QueueLedger tracks which replicator owns which WAL queue, the last
// acknowledged position per WAL, and the bulk-load file references awaiting
// shipment. Replicators mutate only their own (replicator, queueId) keys,
// so ordinary operations need no cross-process coordination; ClaimQueue is
// the one multi-writer path and rides on the store's atomic batches.
type QueueLedger struct {
	store   coordstore.Store
	layout  layout
	logger  logging.Logger
	metrics *metrics.Registry
}

// LedgerStats is a point-in-time census of the ledger.
type LedgerStats struct {
	Replicators int
	Queues      int
	WALs        int
	HFileRefs   int
}

// NewQueueLedger creates a ledger rooted at base ("" selects
// DefaultBasePath).
func NewQueueLedger(store coordstore.Store, base string, logger logging.Logger, m *metrics.Registry) *QueueLedger {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	return &QueueLedger{
		store:   store,
		layout:  newLayout(base),
		logger:  logger.With(logging.Component("queue-ledger")),
		metrics: m,
	}
}

// AddWAL appends a WAL file to a queue with initial position 0. Re-adding
// an existing file is a no-op that preserves its position.
func (l *QueueLedger) AddWAL(ctx context.Context, server ServerName, queueID, fileName string) error {
	err := l.store.ConditionalCreate(ctx, l.layout.walKey(server, queueID, fileName), encodePosition(0))
	if err != nil {
		if coordstore.IsAlreadyExists(err) {
			l.metrics.RecordQueueOperation("add_wal", "duplicate")
			return nil
		}
		l.metrics.RecordQueueOperation("add_wal", "error")
		return NewError("AddWAL").WAL(server, fileName).Cause(err).Err()
	}
	l.metrics.RecordQueueOperation("add_wal", "success")
	l.logger.Debug("added wal to queue",
		logging.Replicator(server.String()),
		logging.Queue(queueID),
		logging.WAL(fileName))
	return nil
}

// RemoveWAL drops one WAL file from a queue. Removing an absent file is a
// no-op. The queue key itself survives, even when emptied.
func (l *QueueLedger) RemoveWAL(ctx context.Context, server ServerName, queueID, fileName string) error {
	err := l.store.Delete(ctx, l.layout.walKey(server, queueID, fileName))
	if err != nil {
		if coordstore.IsNotFound(err) {
			l.metrics.RecordQueueOperation("remove_wal", "absent")
			return nil
		}
		l.metrics.RecordQueueOperation("remove_wal", "error")
		return NewError("RemoveWAL").WAL(server, fileName).Cause(err).Err()
	}
	l.metrics.RecordQueueOperation("remove_wal", "success")
	return nil
}

// RemoveQueue drops a whole queue and its WAL entries. Removing an absent
// queue is a no-op. The replicator key survives; use
// RemoveReplicatorIfQueueIsEmpty to collect it.
func (l *QueueLedger) RemoveQueue(ctx context.Context, server ServerName, queueID string) error {
	err := l.store.Delete(ctx, l.layout.queueKey(server, queueID))
	if err != nil {
		if coordstore.IsNotFound(err) {
			l.metrics.RecordQueueOperation("remove_queue", "absent")
			return nil
		}
		l.metrics.RecordQueueOperation("remove_queue", "error")
		return NewError("RemoveQueue").Queue(server, queueID).Cause(err).Err()
	}
	l.metrics.RecordQueueOperation("remove_queue", "success")
	l.logger.Info("removed queue",
		logging.Replicator(server.String()),
		logging.Queue(queueID))
	return nil
}

// WALsInQueue lists the WAL files in one queue, empty for unknown keys.
func (l *QueueLedger) WALsInQueue(ctx context.Context, server ServerName, queueID string) ([]string, error) {
	wals, err := l.store.List(ctx, l.layout.queueKey(server, queueID))
	if err != nil {
		return nil, NewError("GetWALsInQueue").Queue(server, queueID).Cause(err).Err()
	}
	return wals, nil
}

// AllQueues lists the queue ids a replicator owns, empty for unknown
// replicators.
func (l *QueueLedger) AllQueues(ctx context.Context, server ServerName) ([]string, error) {
	queues, err := l.store.List(ctx, l.layout.replicatorKey(server))
	if err != nil {
		return nil, NewError("GetAllQueues").Replicator(server).Cause(err).Err()
	}
	return queues, nil
}

// Replicators lists every server present in the ledger, including ones
// whose queues have all been emptied or claimed away.
func (l *QueueLedger) Replicators(ctx context.Context) ([]ServerName, error) {
	names, err := l.store.List(ctx, l.layout.replicatorsRoot())
	if err != nil {
		return nil, NewError("GetListOfReplicators").Context("list").Cause(err).Err()
	}
	servers := make([]ServerName, 0, len(names))
	for _, name := range names {
		sn, err := ParseServerName(name)
		if err != nil {
			l.logger.Warn("skipping malformed replicator entry",
				logging.Replicator(name),
				logging.Error(err))
			continue
		}
		servers = append(servers, sn)
	}
	return servers, nil
}

// SetWALPosition records the last acknowledged position for a WAL file,
// creating the entry if needed. Positions are monotonically non-decreasing;
// a regression is rejected with ErrStaleWrite and nothing is written.
func (l *QueueLedger) SetWALPosition(ctx context.Context, server ServerName, queueID, fileName string, position int64) error {
	if position < 0 {
		return NewError("SetWALPosition").WAL(server, fileName).
			Cause(fmt.Errorf("negative position %d", position)).Err()
	}

	current, err := l.WALPosition(ctx, server, queueID, fileName)
	if err != nil {
		return err
	}
	if position < current {
		l.metrics.RecordPositionUpdate(true)
		return NewError("SetWALPosition").WAL(server, fileName).
			Cause(fmt.Errorf("%w: position %d is behind stored %d", ErrStaleWrite, position, current)).Err()
	}

	err = l.store.Set(ctx, l.layout.walKey(server, queueID, fileName), encodePosition(position))
	if err != nil {
		return NewError("SetWALPosition").WAL(server, fileName).Cause(err).Err()
	}
	l.metrics.RecordPositionUpdate(false)
	l.logger.Debug("set wal position",
		logging.Replicator(server.String()),
		logging.Queue(queueID),
		logging.WAL(fileName),
		logging.Position(position))
	return nil
}

// WALPosition returns the last acknowledged position for a WAL file, 0 when
// unset or unknown.
func (l *QueueLedger) WALPosition(ctx context.Context, server ServerName, queueID, fileName string) (int64, error) {
	framed, err := l.store.Get(ctx, l.layout.walKey(server, queueID, fileName))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return 0, nil
		}
		return 0, NewError("GetWALPosition").WAL(server, fileName).Cause(err).Err()
	}
	position, err := decodePosition(framed)
	if err != nil {
		return 0, NewError("GetWALPosition").WAL(server, fileName).Cause(err).Err()
	}
	return position, nil
}

// ClaimQueue atomically transfers a dead replicator's queue to target. The
// claimed queue gets a new id with the source appended, so repeated claims
// chain an audit trail and never collide. Exactly one claimant can win;
// losers get ErrClaimLost and should move on to the next queue.
func (l *QueueLedger) ClaimQueue(ctx context.Context, source ServerName, queueID string, target ServerName) (string, error) {
	start := time.Now()
	newQueueID := RecoveredQueueID(queueID, source)

	// Existence probe: a vanished source queue means someone else
	// already claimed it.
	if _, err := l.store.Get(ctx, l.layout.queueKey(source, queueID)); err != nil {
		if coordstore.IsNotFound(err) {
			l.metrics.RecordClaim("lost", time.Since(start))
			return "", NewError("ClaimQueue").Queue(source, queueID).Cause(ErrClaimLost).Err()
		}
		l.metrics.RecordClaim("error", time.Since(start))
		return "", NewError("ClaimQueue").Queue(source, queueID).Cause(err).Err()
	}

	wals, err := l.store.List(ctx, l.layout.queueKey(source, queueID))
	if err != nil {
		l.metrics.RecordClaim("error", time.Since(start))
		return "", NewError("ClaimQueue").Queue(source, queueID).Cause(err).Err()
	}

	ops := make([]coordstore.Op, 0, len(wals)+2)
	ops = append(ops, coordstore.CreateOp(l.layout.queueKey(target, newQueueID), nil))
	for _, wal := range wals {
		framed, err := l.store.Get(ctx, l.layout.walKey(source, queueID, wal))
		if err != nil {
			if coordstore.IsNotFound(err) {
				// Removed between list and read; nothing to carry.
				continue
			}
			l.metrics.RecordClaim("error", time.Since(start))
			return "", NewError("ClaimQueue").WAL(source, wal).Cause(err).Err()
		}
		ops = append(ops, coordstore.CreateOp(l.layout.walKey(target, newQueueID, wal), framed))
	}
	ops = append(ops, coordstore.DeleteOp(l.layout.queueKey(source, queueID)))

	if err := l.store.MultiOp(ctx, ops); err != nil {
		if coordstore.IsNotFound(err) || coordstore.IsAlreadyExists(err) {
			l.metrics.RecordClaim("lost", time.Since(start))
			return "", NewError("ClaimQueue").Queue(source, queueID).Cause(ErrClaimLost).Err()
		}
		l.metrics.RecordClaim("error", time.Since(start))
		return "", NewError("ClaimQueue").Queue(source, queueID).Cause(err).Err()
	}

	l.metrics.RecordClaim("won", time.Since(start))
	l.logger.Info("claimed queue",
		logging.Replicator(source.String()),
		logging.Queue(queueID),
		logging.String("target", target.String()),
		logging.String("new_queue", newQueueID),
		logging.Count(len(wals)))
	return newQueueID, nil
}

// RemoveReplicatorIfQueueIsEmpty garbage-collects a replicator that owns
// zero queues; otherwise it is a no-op. The check and delete are not
// atomic, so callers run this only for dead replicators after their claims
// have settled.
func (l *QueueLedger) RemoveReplicatorIfQueueIsEmpty(ctx context.Context, server ServerName) error {
	queues, err := l.AllQueues(ctx, server)
	if err != nil {
		return err
	}
	if len(queues) > 0 {
		l.metrics.RecordQueueOperation("remove_replicator", "not_empty")
		return nil
	}
	err = l.store.Delete(ctx, l.layout.replicatorKey(server))
	if err != nil && !coordstore.IsNotFound(err) {
		l.metrics.RecordQueueOperation("remove_replicator", "error")
		return NewError("RemoveReplicator").Replicator(server).Cause(err).Err()
	}
	l.metrics.RecordQueueOperation("remove_replicator", "success")
	l.logger.Info("removed empty replicator", logging.Replicator(server.String()))
	return nil
}

// RemoveAllQueues drops every queue feeding the given peer across all
// replicators, including recovered incarnations. Part of the peer removal
// cascade.
func (l *QueueLedger) RemoveAllQueues(ctx context.Context, peerID string) error {
	servers, err := l.Replicators(ctx)
	if err != nil {
		return err
	}
	removed := 0
	for _, server := range servers {
		queues, err := l.AllQueues(ctx, server)
		if err != nil {
			return err
		}
		for _, queueID := range queues {
			info, err := ParseQueueID(queueID)
			if err != nil {
				l.logger.Warn("skipping unparseable queue id",
					logging.Replicator(server.String()),
					logging.Queue(queueID),
					logging.Error(err))
				continue
			}
			if info.PeerID != peerID {
				continue
			}
			if err := l.RemoveQueue(ctx, server, queueID); err != nil {
				return err
			}
			removed++
		}
	}
	l.logger.Info("removed all queues for peer",
		logging.PeerID(peerID),
		logging.Count(removed))
	return nil
}

// AddPeerToHFileRefs creates the per-peer ref-set container. Idempotent.
func (l *QueueLedger) AddPeerToHFileRefs(ctx context.Context, peerID string) error {
	err := l.store.ConditionalCreate(ctx, l.layout.hfileRefsPeerKey(peerID), nil)
	if err != nil {
		if coordstore.IsAlreadyExists(err) {
			return nil
		}
		return NewError("AddPeerToHFileRefs").HFileRefs(peerID).Cause(err).Err()
	}
	l.logger.Debug("created hfile ref container", logging.PeerID(peerID))
	return nil
}

// RemovePeerFromHFileRefs drops the container and every ref inside it.
// Removing an absent container is a no-op.
func (l *QueueLedger) RemovePeerFromHFileRefs(ctx context.Context, peerID string) error {
	err := l.store.Delete(ctx, l.layout.hfileRefsPeerKey(peerID))
	if err != nil {
		if coordstore.IsNotFound(err) {
			return nil
		}
		return NewError("RemovePeerFromHFileRefs").HFileRefs(peerID).Cause(err).Err()
	}
	l.logger.Info("removed hfile ref container", logging.PeerID(peerID))
	return nil
}

// AddHFileRefs records bulk-loaded files pending shipment to a peer. The
// batch is all-or-nothing; the container is created implicitly when
// missing. Files are keyed by name, so re-adding a name is idempotent.
func (l *QueueLedger) AddHFileRefs(ctx context.Context, peerID string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	ops := make([]coordstore.Op, 0, len(files))
	for _, file := range files {
		ops = append(ops, coordstore.SetOp(l.layout.hfileRefKey(peerID, file), nil))
	}
	if err := l.store.MultiOp(ctx, ops); err != nil {
		l.metrics.RecordQueueOperation("add_hfile_refs", "error")
		return NewError("AddHFileRefs").HFileRefs(peerID).Cause(err).Err()
	}
	l.metrics.RecordQueueOperation("add_hfile_refs", "success")
	l.logger.Debug("added hfile refs",
		logging.PeerID(peerID),
		logging.Count(len(files)))
	return nil
}

// RemoveHFileRefs drops shipped files from a peer's ref set. Names not
// present are skipped.
func (l *QueueLedger) RemoveHFileRefs(ctx context.Context, peerID string, files []string) error {
	for _, file := range files {
		err := l.store.Delete(ctx, l.layout.hfileRefKey(peerID, file))
		if err != nil && !coordstore.IsNotFound(err) {
			l.metrics.RecordQueueOperation("remove_hfile_refs", "error")
			return NewError("RemoveHFileRefs").HFileRefs(peerID).Cause(err).Err()
		}
	}
	l.metrics.RecordQueueOperation("remove_hfile_refs", "success")
	return nil
}

// ReplicableHFiles lists the files pending shipment to a peer, empty for
// unknown peers.
func (l *QueueLedger) ReplicableHFiles(ctx context.Context, peerID string) ([]string, error) {
	files, err := l.store.List(ctx, l.layout.hfileRefsPeerKey(peerID))
	if err != nil {
		return nil, NewError("GetReplicableHFiles").HFileRefs(peerID).Cause(err).Err()
	}
	return files, nil
}

// AllPeersFromHFileRefs lists peers that have a ref-set container,
// regardless of emptiness.
func (l *QueueLedger) AllPeersFromHFileRefs(ctx context.Context) ([]string, error) {
	peers, err := l.store.List(ctx, l.layout.hfileRefsRoot())
	if err != nil {
		return nil, NewError("GetAllPeersFromHFileRefs").Context("list").Cause(err).Err()
	}
	return peers, nil
}

// Stats walks the ledger and counts replicators, queues, WALs and refs.
func (l *QueueLedger) Stats(ctx context.Context) (LedgerStats, error) {
	var stats LedgerStats

	servers, err := l.Replicators(ctx)
	if err != nil {
		return stats, err
	}
	stats.Replicators = len(servers)
	for _, server := range servers {
		queues, err := l.AllQueues(ctx, server)
		if err != nil {
			return stats, err
		}
		stats.Queues += len(queues)
		for _, queueID := range queues {
			wals, err := l.WALsInQueue(ctx, server, queueID)
			if err != nil {
				return stats, err
			}
			stats.WALs += len(wals)
		}
	}

	peers, err := l.AllPeersFromHFileRefs(ctx)
	if err != nil {
		return stats, err
	}
	for _, peerID := range peers {
		files, err := l.ReplicableHFiles(ctx, peerID)
		if err != nil {
			return stats, err
		}
		stats.HFileRefs += len(files)
	}

	l.metrics.UpdateQueueCounts(stats.Replicators, stats.Queues, stats.HFileRefs)
	return stats, nil
}

func encodePosition(position int64) []byte {
	return coordstore.EncodeValue([]byte(strconv.FormatInt(position, 10)))
}

func decodePosition(framed []byte) (int64, error) {
	data, err := coordstore.DecodeValue(framed)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	position, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt position value %q: %w", data, err)
	}
	return position, nil
}
