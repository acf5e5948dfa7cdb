package replication

import (
	"context"

	"github.com/tesseradb/replication/pkg/logging"
)

// RecoveryResult summarizes one failover sweep over a dead replicator.
type RecoveryResult struct {
	// Claimed holds the new ids of the queues this sweep won.
	Claimed []string
	// Lost counts queues another survivor claimed first.
	Lost int
}

// RecoverDeadReplicator claims every queue of a dead replicator into
// target, one at a time. Races with other survivors are expected: a lost
// claim is counted and skipped, never fatal. Once the sweep is done the
// dead replicator's record is garbage-collected if nothing is left in it.
func (l *QueueLedger) RecoverDeadReplicator(ctx context.Context, dead, target ServerName) (RecoveryResult, error) {
	var result RecoveryResult

	queues, err := l.AllQueues(ctx, dead)
	if err != nil {
		return result, err
	}

	for _, queueID := range queues {
		newQueueID, err := l.ClaimQueue(ctx, dead, queueID, target)
		if err != nil {
			if IsClaimLost(err) {
				result.Lost++
				continue
			}
			return result, err
		}
		result.Claimed = append(result.Claimed, newQueueID)
	}

	if err := l.RemoveReplicatorIfQueueIsEmpty(ctx, dead); err != nil {
		return result, err
	}

	l.logger.Info("recovered dead replicator",
		logging.Replicator(dead.String()),
		logging.String("target", target.String()),
		logging.Int("claimed", len(result.Claimed)),
		logging.Int("lost", result.Lost))
	return result, nil
}
