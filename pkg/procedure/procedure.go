// Package procedure implements the resumable peer-modification state machine.
//
// One Procedure applies one operation (ADD, REMOVE, ENABLE, DISABLE,
// UPDATE_CONFIG) to one peer, moving through
//
//	PRE_MODIFICATION -> STORAGE_UPDATE -> POST_MODIFICATION -> DONE
//
// with a ROLLBACK -> FAILED branch when the storage update fails beyond
// retry. The record is persisted before every transition, so a coordinator
// restart resumes unfinished procedures at their recorded state instead of
// starting over. The Executor serializes procedures per peer id.
package procedure

import (
	"context"
	"errors"
	"fmt"

	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
)

// Procedure drives one peer modification to a terminal state.
type Procedure struct {
	record   *Record
	strategy strategy
	hooks    Hooks
	records  *recordStore
	retryer  *Retryer
	resumed  bool
	cause    error
	logger   logging.Logger
	metrics  *metrics.Registry
}

// Run executes the state machine until DONE or FAILED. It returns nil only
// for DONE.
func (p *Procedure) Run(ctx context.Context) error {
	for {
		switch p.record.State {
		case StatePreModification:
			if err := p.preModification(ctx); err != nil {
				// Nothing durable has been touched, abort outright.
				p.cause = err
				p.record.Reason = err.Error()
				if terr := p.transition(ctx, StateFailed); terr != nil {
					return terr
				}
				continue
			}
			if err := p.transition(ctx, StateStorageUpdate); err != nil {
				return err
			}

		case StateStorageUpdate:
			err := p.retryer.Run(ctx, func(ctx context.Context) error {
				return p.strategy.Apply(ctx, p.resumed)
			})
			if err != nil {
				p.cause = err
				p.record.Reason = err.Error()
				if terr := p.transition(ctx, StateRollback); terr != nil {
					return terr
				}
				continue
			}
			if err := p.transition(ctx, StatePostModification); err != nil {
				return err
			}

		case StatePostModification:
			if err := p.hooks.PostModify(ctx, p.record.PeerID, p.record.Kind); err != nil {
				// The storage change is committed; the hook only notifies.
				p.logger.Warn("post-modification hook failed",
					logging.PeerID(p.record.PeerID),
					logging.Operation(p.record.Kind.String()),
					logging.Error(err))
			}
			if err := p.transition(ctx, StateDone); err != nil {
				return err
			}

		case StateRollback:
			p.metrics.RecordProcedureRollback()
			if err := p.strategy.Rollback(ctx); err != nil {
				p.logger.Error("rollback failed, manual intervention required",
					logging.ProcedureID(p.record.ID),
					logging.PeerID(p.record.PeerID),
					logging.Operation(p.record.Kind.String()),
					logging.Error(err))
			}
			if err := p.transition(ctx, StateFailed); err != nil {
				return err
			}

		case StateDone:
			if err := p.records.Delete(ctx, p.record.ID); err != nil {
				p.logger.Warn("failed to delete finished procedure record",
					logging.ProcedureID(p.record.ID),
					logging.Error(err))
			}
			return nil

		case StateFailed:
			return p.failure()

		default:
			return fmt.Errorf("procedure %s is in unknown state %d", p.record.ID, p.record.State)
		}
	}
}

// preModification runs the strategy checks and the veto hook.
func (p *Procedure) preModification(ctx context.Context) error {
	if err := p.strategy.Check(ctx); err != nil {
		return err
	}
	if err := p.hooks.PreModify(ctx, p.record.PeerID, p.record.Kind); err != nil {
		return fmt.Errorf("pre-modification hook vetoed: %w", err)
	}
	return nil
}

// transition persists the new state before entering it.
func (p *Procedure) transition(ctx context.Context, next State) error {
	prev := p.record.State
	p.record.State = next
	if err := p.records.Save(ctx, p.record); err != nil {
		p.record.State = prev
		return fmt.Errorf("failed to persist %s transition of procedure %s: %w", next, p.record.ID, err)
	}
	p.logger.Debug("procedure transition",
		logging.ProcedureID(p.record.ID),
		logging.PeerID(p.record.PeerID),
		logging.Operation(p.record.Kind.String()),
		logging.State(next.String()))
	return nil
}

// failure converts a FAILED record into the error returned to callers.
func (p *Procedure) failure() error {
	cause := p.cause
	if cause == nil && p.record.Reason != "" {
		cause = errors.New(p.record.Reason)
	}
	return &FailedError{Kind: p.record.Kind, PeerID: p.record.PeerID, Cause: cause}
}
